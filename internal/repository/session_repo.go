package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, client_id, trainer_id, package_id, scheduled_at, duration_min, location,
		status, notes, cancellation_reason, reschedule_count, rescheduled_from, created_at, updated_at`

type CreateSessionInput struct {
	ClientID        int64
	TrainerID       int64
	PackageID       int64
	ScheduledAt     time.Time
	DurationMinutes int
	Location        *string
	Notes           *string
	RescheduleCount int
	RescheduledFrom *int64
}

type SessionListFilter struct {
	ClientID  int64
	TrainerID int64
	Status    models.SessionStatus
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.ClientID,
		&session.TrainerID,
		&session.PackageID,
		&session.ScheduledAt,
		&session.DurationMinutes,
		&session.Location,
		&session.Status,
		&session.Notes,
		&session.CancellationReason,
		&session.RescheduleCount,
		&session.RescheduledFrom,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SessionRepository) Create(
	ctx context.Context,
	input CreateSessionInput,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		INSERT INTO sessions (client_id, trainer_id, package_id, scheduled_at, duration_min, location, notes, reschedule_count, rescheduled_from, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		RETURNING %s
	`, sessionColumns)

	return scanSession(r.db.QueryRow(
		ctx,
		query,
		input.ClientID,
		input.TrainerID,
		input.PackageID,
		input.ScheduledAt,
		input.DurationMinutes,
		input.Location,
		input.Notes,
		input.RescheduleCount,
		input.RescheduledFrom,
	))
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID int64) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE id = $1
	`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

func (r *SessionRepository) GetByIDForUpdate(
	ctx context.Context,
	sessionID int64,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID))
}

// ListActiveForTrainerOn returns the trainer's pending and confirmed
// sessions whose interval touches the given calendar day (UTC).
func (r *SessionRepository) ListActiveForTrainerOn(
	ctx context.Context,
	trainerID int64,
	day time.Time,
) ([]models.Session, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE trainer_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND scheduled_at < $3
		  AND (scheduled_at + (duration_min * INTERVAL '1 minute')) > $2
		ORDER BY scheduled_at ASC
	`, sessionColumns)

	rows, err := r.db.Query(ctx, query, trainerID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

func (r *SessionRepository) List(
	ctx context.Context,
	filter SessionListFilter,
) ([]models.Session, int, error) {
	args := []any{}
	whereParts := []string{}

	if filter.ClientID > 0 {
		args = append(args, filter.ClientID)
		whereParts = append(whereParts, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.TrainerID > 0 {
		args = append(args, filter.TrainerID)
		whereParts = append(whereParts, fmt.Sprintf("trainer_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		whereParts = append(whereParts, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		whereParts = append(whereParts, fmt.Sprintf("scheduled_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		whereParts = append(whereParts, fmt.Sprintf("scheduled_at < $%d", len(args)))
	}

	where := "TRUE"
	if len(whereParts) > 0 {
		where = strings.Join(whereParts, " AND ")
	}

	totalQuery := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM sessions
		WHERE %s
	`, where)

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit)
	limitPlaceholder := len(args)
	args = append(args, filter.Offset)
	offsetPlaceholder := len(args)

	query := fmt.Sprintf(`
		SELECT %s
		FROM sessions
		WHERE %s
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $%d OFFSET $%d
	`, sessionColumns, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

// UpdateStatusIfCurrent flips the status only when the row still holds
// currentStatus; a lost race surfaces as pgx.ErrNoRows.
func (r *SessionRepository) UpdateStatusIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus models.SessionStatus,
	nextStatus models.SessionStatus,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, nextStatus))
}

// CancelIfCurrent is UpdateStatusIfCurrent specialized for cancellation,
// recording the reason in the same statement.
func (r *SessionRepository) CancelIfCurrent(
	ctx context.Context,
	sessionID int64,
	currentStatus models.SessionStatus,
	reason *string,
) (*models.Session, error) {
	query := fmt.Sprintf(`
		UPDATE sessions
		SET status = 'cancelled', cancellation_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, sessionColumns)
	return scanSession(r.db.QueryRow(ctx, query, sessionID, currentStatus, reason))
}

func (r *SessionRepository) HasConflict(
	ctx context.Context,
	trainerID int64,
	requestedTime time.Time,
	durationMinutes int,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE trainer_id = $1
			  AND status IN ('pending', 'confirmed')
			  AND scheduled_at < ($2::timestamptz + ($3::int * INTERVAL '1 minute'))
			  AND (scheduled_at + (duration_min * INTERVAL '1 minute')) > $2::timestamptz
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, trainerID, requestedTime, durationMinutes).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func (r *SessionRepository) HasConflictExcludingSession(
	ctx context.Context,
	trainerID int64,
	requestedTime time.Time,
	durationMinutes int,
	excludedSessionID int64,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM sessions
			WHERE trainer_id = $1
			  AND id <> $4
			  AND status IN ('pending', 'confirmed')
			  AND scheduled_at < ($2::timestamptz + ($3::int * INTERVAL '1 minute'))
			  AND (scheduled_at + (duration_min * INTERVAL '1 minute')) > $2::timestamptz
		)
	`
	var hasConflict bool
	if err := r.db.QueryRow(ctx, query, trainerID, requestedTime, durationMinutes, excludedSessionID).Scan(&hasConflict); err != nil {
		return false, err
	}
	return hasConflict, nil
}

func collectSessions(rows pgx.Rows) ([]models.Session, error) {
	sessions := make([]models.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
