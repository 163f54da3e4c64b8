package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/notifications"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Policy holds the configurable business rules the scheduling core enforces.
type Policy struct {
	// MinimumLead is how far in the future a session must start for a
	// booking or reschedule to be accepted.
	MinimumLead time.Duration
	// MaxReschedules bounds the reschedule chain rooted at an original
	// booking.
	MaxReschedules int
	// AutoConfirm confirms new bookings immediately instead of waiting
	// for the trainer.
	AutoConfirm bool
}

type transitionNotifier interface {
	Emit(event notifications.Event)
}

// SessionService owns the session state machine. Every state change runs
// its precondition checks and its write inside one transaction under a
// per-trainer advisory lock, so concurrent commands for the same trainer
// serialize instead of racing.
type SessionService struct {
	db          *pgxpool.Pool
	sessionRepo *repository.SessionRepository
	packageRepo *repository.PackageRepository
	hoursRepo   *repository.WorkingHoursRepository
	notifier    transitionNotifier
	policy      Policy
}

func NewSessionService(
	db *pgxpool.Pool,
	sessionRepo *repository.SessionRepository,
	packageRepo *repository.PackageRepository,
	hoursRepo *repository.WorkingHoursRepository,
	notifier transitionNotifier,
	policy Policy,
) *SessionService {
	return &SessionService{
		db:          db,
		sessionRepo: sessionRepo,
		packageRepo: packageRepo,
		hoursRepo:   hoursRepo,
		notifier:    notifier,
		policy:      policy,
	}
}

type CreateBookingInput struct {
	ClientID        int64
	TrainerID       int64
	PackageID       int64
	ScheduledAt     time.Time
	DurationMinutes int
	Location        *string
	Notes           *string
}

// reservationIntent is the validated outcome of the booking checks. It is
// only ever committed inside the same transaction that validated it.
type reservationIntent struct {
	clientID        int64
	trainerID       int64
	packageID       int64
	scheduledAt     time.Time
	durationMinutes int
	location        *string
	notes           *string
	rescheduleCount int
	rescheduledFrom *int64
}

func (s *SessionService) CreateBooking(
	ctx context.Context,
	input CreateBookingInput,
) (*models.Session, error) {
	if input.ClientID <= 0 || input.TrainerID <= 0 || input.PackageID <= 0 ||
		input.DurationMinutes <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)
	txPackageRepo := repository.NewPackageRepository(tx)
	txHoursRepo := repository.NewWorkingHoursRepository(tx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", input.TrainerID); err != nil {
		return nil, wrapStoreErr(err)
	}

	intent := reservationIntent{
		clientID:        input.ClientID,
		trainerID:       input.TrainerID,
		packageID:       input.PackageID,
		scheduledAt:     input.ScheduledAt.UTC(),
		durationMinutes: input.DurationMinutes,
		location:        input.Location,
		notes:           input.Notes,
	}
	if err := s.validateReservation(ctx, txSessionRepo, txPackageRepo, txHoursRepo, intent, 0, true); err != nil {
		return nil, err
	}

	session, err := txSessionRepo.Create(ctx, repository.CreateSessionInput{
		ClientID:        intent.clientID,
		TrainerID:       intent.trainerID,
		PackageID:       intent.packageID,
		ScheduledAt:     intent.scheduledAt,
		DurationMinutes: intent.durationMinutes,
		Location:        intent.location,
		Notes:           intent.notes,
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if _, err := txPackageRepo.ConsumeCredit(ctx, intent.packageID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &QuotaExhaustedError{PackageID: intent.packageID}
		}
		return nil, wrapStoreErr(err)
	}

	events := []notifications.Event{notifications.NewEvent(session.ID, "", models.StatusPending)}
	if s.policy.AutoConfirm {
		confirmed, err := txSessionRepo.UpdateStatusIfCurrent(
			ctx, session.ID, models.StatusPending, models.StatusConfirmed)
		if err != nil {
			return nil, wrapStoreErr(err)
		}
		session = confirmed
		events = append(events, notifications.NewEvent(session.ID, models.StatusPending, models.StatusConfirmed))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStoreErr(err)
	}

	s.emit(events...)
	return session, nil
}

// validateReservation runs the booking checks in order, short-circuiting on
// the first failure: lead time, slot availability re-derived from the
// working-hours template, then package quota. It never writes anything;
// callers commit the intent in the same transaction.
func (s *SessionService) validateReservation(
	ctx context.Context,
	sessionRepo *repository.SessionRepository,
	packageRepo *repository.PackageRepository,
	hoursRepo *repository.WorkingHoursRepository,
	intent reservationIntent,
	excludeSessionID int64,
	checkQuota bool,
) error {
	now := time.Now().UTC()
	if err := checkLeadTime(intent.scheduledAt, now, s.policy.MinimumLead); err != nil {
		return err
	}

	intervals, err := hoursRepo.ListForTrainerWeekday(ctx, intent.trainerID, intent.scheduledAt.Weekday())
	if err != nil {
		return wrapStoreErr(err)
	}
	if !slotInTemplate(intervals, intent.scheduledAt, intent.durationMinutes) {
		return &SlotUnavailableError{
			TrainerID:       intent.trainerID,
			StartsAt:        intent.scheduledAt,
			DurationMinutes: intent.durationMinutes,
		}
	}

	var conflict bool
	if excludeSessionID > 0 {
		conflict, err = sessionRepo.HasConflictExcludingSession(
			ctx, intent.trainerID, intent.scheduledAt, intent.durationMinutes, excludeSessionID)
	} else {
		conflict, err = sessionRepo.HasConflict(
			ctx, intent.trainerID, intent.scheduledAt, intent.durationMinutes)
	}
	if err != nil {
		return wrapStoreErr(err)
	}
	if conflict {
		return &SlotUnavailableError{
			TrainerID:       intent.trainerID,
			StartsAt:        intent.scheduledAt,
			DurationMinutes: intent.durationMinutes,
		}
	}

	if checkQuota {
		pkg, err := packageRepo.GetByID(ctx, intent.packageID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return wrapStoreErr(err)
		}
		if pkg.ClientID != intent.clientID {
			return ErrInvalidInput
		}
		if pkg.Remaining() <= 0 {
			return &QuotaExhaustedError{PackageID: pkg.ID, Remaining: pkg.Remaining()}
		}
	}

	return nil
}

func (s *SessionService) ConfirmSession(
	ctx context.Context,
	sessionID int64,
) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}
	if session.Status != models.StatusPending {
		return nil, ErrInvalidTransition
	}

	updated, err := s.sessionRepo.UpdateStatusIfCurrent(
		ctx, sessionID, models.StatusPending, models.StatusConfirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, wrapStoreErr(err)
	}

	s.emit(notifications.NewEvent(updated.ID, models.StatusPending, models.StatusConfirmed))
	return updated, nil
}

func (s *SessionService) CancelSession(
	ctx context.Context,
	sessionID int64,
	reason string,
) (*models.Session, error) {
	reason = strings.TrimSpace(reason)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)
	txPackageRepo := repository.NewPackageRepository(tx)

	session, err := txSessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}

	switch session.Status {
	case models.StatusPending:
		// reason optional
	case models.StatusConfirmed:
		if reason == "" {
			return nil, ErrInvalidInput
		}
	default:
		return nil, ErrInvalidTransition
	}

	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}

	cancelled, err := txSessionRepo.CancelIfCurrent(ctx, sessionID, session.Status, reasonPtr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, wrapStoreErr(err)
	}

	// The credit consumed at creation travels along the reschedule chain,
	// so every cancellable session holds exactly one to give back.
	if _, err := txPackageRepo.RestoreCredit(ctx, session.PackageID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("package %d has no consumed session to restore", session.PackageID)
		}
		return nil, wrapStoreErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStoreErr(err)
	}

	s.emit(notifications.NewEvent(cancelled.ID, session.Status, models.StatusCancelled))
	return cancelled, nil
}

func (s *SessionService) CompleteSession(
	ctx context.Context,
	sessionID int64,
) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}
	if session.Status != models.StatusConfirmed {
		return nil, ErrInvalidTransition
	}
	if time.Now().UTC().Before(session.EndsAt()) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.sessionRepo.UpdateStatusIfCurrent(
		ctx, sessionID, models.StatusConfirmed, models.StatusCompleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, wrapStoreErr(err)
	}

	s.emit(notifications.NewEvent(updated.ID, models.StatusConfirmed, models.StatusCompleted))
	return updated, nil
}

type RescheduleResult struct {
	OldSession *models.Session `json:"old_session"`
	NewSession *models.Session `json:"new_session"`
}

// RescheduleSession atomically retires the old session and creates its
// successor. Either both records change or neither does.
func (s *SessionService) RescheduleSession(
	ctx context.Context,
	sessionID int64,
	newStart time.Time,
) (*RescheduleResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txSessionRepo := repository.NewSessionRepository(tx)
	txPackageRepo := repository.NewPackageRepository(tx)
	txHoursRepo := repository.NewWorkingHoursRepository(tx)

	session, err := txSessionRepo.GetByIDForUpdate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}
	if !session.Status.Active() {
		return nil, ErrInvalidTransition
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", session.TrainerID); err != nil {
		return nil, wrapStoreErr(err)
	}

	intent := reservationIntent{
		clientID:        session.ClientID,
		trainerID:       session.TrainerID,
		packageID:       session.PackageID,
		scheduledAt:     newStart.UTC(),
		durationMinutes: session.DurationMinutes,
		location:        session.Location,
		notes:           session.Notes,
		rescheduleCount: session.RescheduleCount + 1,
		rescheduledFrom: &session.ID,
	}
	// The quota credit carries forward to the successor, so no quota check.
	// The reschedule-limit guard comes last: lead time and availability are
	// reported first when several rules are violated at once.
	if err := s.validateReservation(ctx, txSessionRepo, txPackageRepo, txHoursRepo, intent, session.ID, false); err != nil {
		return nil, err
	}
	if err := checkRescheduleLimit(session.ID, session.RescheduleCount, s.policy.MaxReschedules); err != nil {
		return nil, err
	}

	retired, err := txSessionRepo.UpdateStatusIfCurrent(
		ctx, session.ID, session.Status, models.StatusRescheduled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidTransition
		}
		return nil, wrapStoreErr(err)
	}

	successor, err := txSessionRepo.Create(ctx, repository.CreateSessionInput{
		ClientID:        intent.clientID,
		TrainerID:       intent.trainerID,
		PackageID:       intent.packageID,
		ScheduledAt:     intent.scheduledAt,
		DurationMinutes: intent.durationMinutes,
		Location:        intent.location,
		Notes:           intent.notes,
		RescheduleCount: intent.rescheduleCount,
		RescheduledFrom: intent.rescheduledFrom,
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapStoreErr(err)
	}

	event := notifications.NewEvent(retired.ID, session.Status, models.StatusRescheduled)
	event.NewSessionID = &successor.ID
	s.emit(event)

	return &RescheduleResult{OldSession: retired, NewSession: successor}, nil
}

func (s *SessionService) ListSessions(
	ctx context.Context,
	filter repository.SessionListFilter,
) ([]models.Session, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	sessions, total, err := s.sessionRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	return sessions, total, nil
}

func (s *SessionService) GetSession(
	ctx context.Context,
	sessionID int64,
) (*models.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapStoreErr(err)
	}
	return session, nil
}

func (s *SessionService) emit(events ...notifications.Event) {
	if s.notifier == nil {
		return
	}
	for _, event := range events {
		s.notifier.Emit(event)
	}
}

// wrapStoreErr marks timeouts and connection failures as retryable store
// errors. The surrounding transaction has rolled back by the time this
// returns, so ErrStoreUnavailable implies no state change.
func wrapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
