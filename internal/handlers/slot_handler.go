package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

type SlotHandler struct {
	service slotReader
}

type slotReader interface {
	GetAvailableSlots(ctx context.Context, trainerID int64, day time.Time, durationMinutes int) ([]models.TimeSlot, error)
}

func NewSlotHandler(service *services.SlotService) *SlotHandler {
	return &SlotHandler{service: service}
}

func (h *SlotHandler) GetAvailableSlots(c *fiber.Ctx) error {
	trainerID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || trainerID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid trainer id"})
	}

	day, err := time.Parse("2006-01-02", strings.TrimSpace(c.Query("date")))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "date must be a YYYY-MM-DD date"})
	}

	durationMinutes := 60
	if raw := strings.TrimSpace(c.Query("duration_minutes")); raw != "" {
		durationMinutes, err = strconv.Atoi(raw)
		if err != nil || durationMinutes <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration_minutes must be greater than 0"})
		}
	}

	slots, err := h.service.GetAvailableSlots(c.Context(), trainerID, day, durationMinutes)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"slots": slots})
}
