package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/repository"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

type SessionHandler struct {
	service sessionSchedulingService
}

type sessionSchedulingService interface {
	CreateBooking(ctx context.Context, input services.CreateBookingInput) (*models.Session, error)
	ConfirmSession(ctx context.Context, sessionID int64) (*models.Session, error)
	CancelSession(ctx context.Context, sessionID int64, reason string) (*models.Session, error)
	CompleteSession(ctx context.Context, sessionID int64) (*models.Session, error)
	RescheduleSession(ctx context.Context, sessionID int64, newStart time.Time) (*services.RescheduleResult, error)
	ListSessions(ctx context.Context, filter repository.SessionListFilter) ([]models.Session, int, error)
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
}

func NewSessionHandler(service *services.SessionService) *SessionHandler {
	return &SessionHandler{service: service}
}

type bookSessionRequest struct {
	ClientID        int64   `json:"client_id"`
	TrainerID       int64   `json:"trainer_id"`
	PackageID       int64   `json:"package_id"`
	ScheduledAt     string  `json:"scheduled_at"`
	DurationMinutes int     `json:"duration_minutes"`
	Location        *string `json:"location"`
	Notes           *string `json:"notes"`
}

type cancelSessionRequest struct {
	Reason string `json:"reason"`
}

type rescheduleSessionRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}

func (h *SessionHandler) CreateBooking(c *fiber.Ctx) error {
	var req bookSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	scheduledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scheduled_at must be a valid RFC3339 timestamp"})
	}
	if req.DurationMinutes <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration_minutes must be greater than 0"})
	}
	if req.Notes != nil && strings.TrimSpace(*req.Notes) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notes must not be empty"})
	}

	session, err := h.service.CreateBooking(c.Context(), services.CreateBookingInput{
		ClientID:        req.ClientID,
		TrainerID:       req.TrainerID,
		PackageID:       req.PackageID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: req.DurationMinutes,
		Location:        req.Location,
		Notes:           req.Notes,
	})
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	filter := repository.SessionListFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if raw := strings.TrimSpace(c.Query("client_id")); raw != "" {
		clientID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || clientID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid client_id"})
		}
		filter.ClientID = clientID
	}
	if raw := strings.TrimSpace(c.Query("trainer_id")); raw != "" {
		trainerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || trainerID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid trainer_id"})
		}
		filter.TrainerID = trainerID
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := models.ParseSessionStatus(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid status"})
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(c.Query("from")); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "from must be an RFC3339 timestamp or YYYY-MM-DD date"})
		}
		filter.From = &from
	}
	if raw := strings.TrimSpace(c.Query("to")); raw != "" {
		to, err := parseTimeParam(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "to must be an RFC3339 timestamp or YYYY-MM-DD date"})
		}
		filter.To = &to
	}

	sessions, total, err := h.service.ListSessions(c.Context(), filter)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"sessions":   sessions,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.GetSession(c.Context(), sessionID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) ConfirmSession(c *fiber.Ctx) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.ConfirmSession(c.Context(), sessionID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req cancelSessionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	session, err := h.service.CancelSession(c.Context(), sessionID, req.Reason)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) CompleteSession(c *fiber.Ctx) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.CompleteSession(c.Context(), sessionID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) RescheduleSession(c *fiber.Ctx) error {
	sessionID, err := parseSessionID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req rescheduleSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	scheduledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ScheduledAt))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "scheduled_at must be a valid RFC3339 timestamp"})
	}

	result, err := h.service.RescheduleSession(c.Context(), sessionID, scheduledAt)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"old_session": result.OldSession,
		"new_session": result.NewSession,
	})
}

func parseSessionID(c *fiber.Ctx) (int64, error) {
	sessionID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || sessionID <= 0 {
		return 0, errors.New("invalid session id")
	}
	return sessionID, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	return time.Parse("2006-01-02", raw)
}

func mapSessionError(c *fiber.Ctx, err error) error {
	var leadErr *services.LeadTimeError
	var slotErr *services.SlotUnavailableError
	var quotaErr *services.QuotaExhaustedError
	var rescheduleErr *services.RescheduleLimitError

	switch {
	case errors.As(err, &leadErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":             "Requested start is inside the minimum lead time",
			"scheduled_at":      leadErr.ScheduledAt,
			"minimum_lead_time": leadErr.MinimumLead.String(),
		})
	case errors.As(err, &slotErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":            "Requested slot is not available",
			"trainer_id":       slotErr.TrainerID,
			"starts_at":        slotErr.StartsAt,
			"duration_minutes": slotErr.DurationMinutes,
		})
	case errors.As(err, &quotaErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":              "Package has no sessions remaining",
			"package_id":         quotaErr.PackageID,
			"sessions_remaining": quotaErr.Remaining,
		})
	case errors.As(err, &rescheduleErr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":            "Reschedule limit reached",
			"reschedule_count": rescheduleErr.Count,
			"max_reschedules":  rescheduleErr.Max,
		})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrSlotUnavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Requested slot is not available"})
	case errors.Is(err, services.ErrQuotaExhausted):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Package has no sessions remaining"})
	case errors.Is(err, services.ErrLeadTimeViolation), errors.Is(err, services.ErrRescheduleLimitExceeded),
		errors.Is(err, services.ErrInvalidTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	case errors.Is(err, services.ErrStoreUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Scheduling store unavailable, retry later"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process session request"})
	}
}
