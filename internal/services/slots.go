package services

import (
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
)

// generateSlots discretizes a trainer's working intervals for one day into
// candidate slots of the requested duration. A slot is unavailable when it
// starts before now or overlaps an active session. Working intervals shorter
// than the duration contribute no slots.
func generateSlots(
	trainerID int64,
	day time.Time,
	intervals []models.WorkingInterval,
	busy []models.Session,
	durationMinutes int,
	now time.Time,
) []models.TimeSlot {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	slots := make([]models.TimeSlot, 0)
	for _, interval := range intervals {
		for startMin := interval.StartMinutes; startMin+durationMinutes <= interval.EndMinutes; startMin += durationMinutes {
			start := dayStart.Add(time.Duration(startMin) * time.Minute)
			end := start.Add(time.Duration(durationMinutes) * time.Minute)

			available := !start.Before(now)
			if available {
				for i := range busy {
					if busy[i].Overlaps(start, end) {
						available = false
						break
					}
				}
			}

			slots = append(slots, models.TimeSlot{
				TrainerID:       trainerID,
				StartsAt:        start,
				DurationMinutes: durationMinutes,
				Available:       available,
			})
		}
	}
	return slots
}

// slotInTemplate reports whether [startsAt, startsAt+duration) is one of the
// slots the working-hours template yields for that day: contained in an open
// interval and aligned to the duration grid counted from the interval start.
func slotInTemplate(
	intervals []models.WorkingInterval,
	startsAt time.Time,
	durationMinutes int,
) bool {
	dayStart := time.Date(startsAt.Year(), startsAt.Month(), startsAt.Day(), 0, 0, 0, 0, time.UTC)
	startMin := int(startsAt.Sub(dayStart) / time.Minute)
	endMin := startMin + durationMinutes

	for _, interval := range intervals {
		if startMin < interval.StartMinutes || endMin > interval.EndMinutes {
			continue
		}
		if (startMin-interval.StartMinutes)%durationMinutes == 0 {
			return true
		}
	}
	return false
}

// checkLeadTime enforces the minimum interval between now and a session's
// start that every booking or reschedule must respect.
func checkLeadTime(scheduledAt, now time.Time, minimumLead time.Duration) error {
	if scheduledAt.Before(now.Add(minimumLead)) {
		return &LeadTimeError{ScheduledAt: scheduledAt, MinimumLead: minimumLead}
	}
	return nil
}

// checkRescheduleLimit bounds the reschedule chain that starts at the
// originally booked session.
func checkRescheduleLimit(sessionID int64, count, max int) error {
	if count >= max {
		return &RescheduleLimitError{SessionID: sessionID, Count: count, Max: max}
	}
	return nil
}
