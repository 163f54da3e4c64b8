package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrLeadTimeViolation       = errors.New("lead time violation")
	ErrSlotUnavailable         = errors.New("slot unavailable")
	ErrQuotaExhausted          = errors.New("package quota exhausted")
	ErrRescheduleLimitExceeded = errors.New("reschedule limit exceeded")
	ErrInvalidTransition       = errors.New("invalid state transition")
	ErrNotFound                = errors.New("not found")
	ErrStoreUnavailable        = errors.New("availability store unavailable")
)

// LeadTimeError reports a booking attempted closer to its start than the
// configured minimum lead time.
type LeadTimeError struct {
	ScheduledAt time.Time
	MinimumLead time.Duration
}

func (e *LeadTimeError) Error() string {
	return fmt.Sprintf("session at %s is inside the %s lead time window",
		e.ScheduledAt.Format(time.RFC3339), e.MinimumLead)
}

func (e *LeadTimeError) Is(target error) bool { return target == ErrLeadTimeViolation }

// SlotUnavailableError covers both a slot that never existed in the
// trainer's template and one lost to a competing booking.
type SlotUnavailableError struct {
	TrainerID       int64
	StartsAt        time.Time
	DurationMinutes int
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot %s (%d min) is not available for trainer %d",
		e.StartsAt.Format(time.RFC3339), e.DurationMinutes, e.TrainerID)
}

func (e *SlotUnavailableError) Is(target error) bool { return target == ErrSlotUnavailable }

type QuotaExhaustedError struct {
	PackageID int64
	Remaining int
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("package %d has %d sessions remaining", e.PackageID, e.Remaining)
}

func (e *QuotaExhaustedError) Is(target error) bool { return target == ErrQuotaExhausted }

type RescheduleLimitError struct {
	SessionID int64
	Count     int
	Max       int
}

func (e *RescheduleLimitError) Error() string {
	return fmt.Sprintf("session %d already rescheduled %d of %d allowed times",
		e.SessionID, e.Count, e.Max)
}

func (e *RescheduleLimitError) Is(target error) bool { return target == ErrRescheduleLimitExceeded }
