package services

import (
	"context"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/repository"
)

// SlotService derives bookable time slots from a trainer's working-hours
// template and their active sessions. Slots are computed fresh on every
// call; nothing here is cached or persisted.
type SlotService struct {
	sessionRepo *repository.SessionRepository
	hoursRepo   *repository.WorkingHoursRepository
}

func NewSlotService(
	sessionRepo *repository.SessionRepository,
	hoursRepo *repository.WorkingHoursRepository,
) *SlotService {
	return &SlotService{
		sessionRepo: sessionRepo,
		hoursRepo:   hoursRepo,
	}
}

func (s *SlotService) GetAvailableSlots(
	ctx context.Context,
	trainerID int64,
	day time.Time,
	durationMinutes int,
) ([]models.TimeSlot, error) {
	if trainerID <= 0 || durationMinutes <= 0 {
		return nil, ErrInvalidInput
	}

	intervals, err := s.hoursRepo.ListForTrainerWeekday(ctx, trainerID, day.Weekday())
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	busy, err := s.sessionRepo.ListActiveForTrainerOn(ctx, trainerID, day)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	return generateSlots(trainerID, day, intervals, busy, durationMinutes, time.Now().UTC()), nil
}
