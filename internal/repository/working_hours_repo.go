package repository

import (
	"context"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
)

type CreateWorkingIntervalInput struct {
	TrainerID    int64
	Weekday      time.Weekday
	StartMinutes int
	EndMinutes   int
}

type WorkingHoursRepository struct {
	db DBTX
}

func NewWorkingHoursRepository(db DBTX) *WorkingHoursRepository {
	return &WorkingHoursRepository{db: db}
}

func (r *WorkingHoursRepository) Create(
	ctx context.Context,
	input CreateWorkingIntervalInput,
) (*models.WorkingInterval, error) {
	query := `
		INSERT INTO working_hours (trainer_id, weekday, start_min, end_min)
		VALUES ($1, $2, $3, $4)
		RETURNING id, trainer_id, weekday, start_min, end_min
	`
	var interval models.WorkingInterval
	err := r.db.QueryRow(ctx, query, input.TrainerID, int(input.Weekday), input.StartMinutes, input.EndMinutes).Scan(
		&interval.ID,
		&interval.TrainerID,
		&interval.Weekday,
		&interval.StartMinutes,
		&interval.EndMinutes,
	)
	if err != nil {
		return nil, err
	}
	return &interval, nil
}

// ListForTrainerWeekday returns the trainer's open intervals for one day of
// the recurring template, ordered by start time.
func (r *WorkingHoursRepository) ListForTrainerWeekday(
	ctx context.Context,
	trainerID int64,
	weekday time.Weekday,
) ([]models.WorkingInterval, error) {
	query := `
		SELECT id, trainer_id, weekday, start_min, end_min
		FROM working_hours
		WHERE trainer_id = $1 AND weekday = $2
		ORDER BY start_min ASC
	`
	rows, err := r.db.Query(ctx, query, trainerID, int(weekday))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	intervals := make([]models.WorkingInterval, 0)
	for rows.Next() {
		var interval models.WorkingInterval
		if err := rows.Scan(
			&interval.ID,
			&interval.TrainerID,
			&interval.Weekday,
			&interval.StartMinutes,
			&interval.EndMinutes,
		); err != nil {
			return nil, err
		}
		intervals = append(intervals, interval)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return intervals, nil
}

func (r *WorkingHoursRepository) DeleteForTrainer(ctx context.Context, trainerID int64) error {
	_, err := r.db.Exec(ctx, "DELETE FROM working_hours WHERE trainer_id = $1", trainerID)
	return err
}
