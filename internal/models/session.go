package models

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the closed set of lifecycle states a session can be in.
// Transitions between them are owned by services.SessionService.
type SessionStatus string

const (
	StatusPending     SessionStatus = "pending"
	StatusConfirmed   SessionStatus = "confirmed"
	StatusCompleted   SessionStatus = "completed"
	StatusCancelled   SessionStatus = "cancelled"
	StatusRescheduled SessionStatus = "rescheduled"
)

// ParseSessionStatus normalizes a status string into a SessionStatus.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "rescheduled":
		return StatusRescheduled, nil
	default:
		return "", fmt.Errorf("unknown session status %q", raw)
	}
}

// Active reports whether the session still occupies its time slot.
// Completed sessions already happened; cancelled and rescheduled ones
// release the slot.
func (s SessionStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Session struct {
	ID                 int64         `json:"id"`
	ClientID           int64         `json:"client_id"`
	TrainerID          int64         `json:"trainer_id"`
	PackageID          int64         `json:"package_id"`
	ScheduledAt        time.Time     `json:"scheduled_at"`
	DurationMinutes    int           `json:"duration_minutes"`
	Location           *string       `json:"location"`
	Status             SessionStatus `json:"status"`
	Notes              *string       `json:"notes"`
	CancellationReason *string       `json:"cancellation_reason"`
	RescheduleCount    int           `json:"reschedule_count"`
	RescheduledFrom    *int64        `json:"rescheduled_from"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// EndsAt is the exclusive end of the session's interval.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the session's interval intersects [start, end).
func (s *Session) Overlaps(start, end time.Time) bool {
	return s.ScheduledAt.Before(end) && s.EndsAt().After(start)
}
