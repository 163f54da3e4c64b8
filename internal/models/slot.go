package models

import "time"

// TimeSlot is a derived value, recomputed on every availability query.
// It is never persisted.
type TimeSlot struct {
	TrainerID       int64     `json:"trainer_id"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Available       bool      `json:"available"`
}

// WorkingInterval is one open interval of a trainer's recurring
// working-hours template. Start and end are minutes from midnight
// in the trainer's local day.
type WorkingInterval struct {
	ID           int64        `json:"id"`
	TrainerID    int64        `json:"trainer_id"`
	Weekday      time.Weekday `json:"weekday"`
	StartMinutes int          `json:"start_minutes"`
	EndMinutes   int          `json:"end_minutes"`
}
