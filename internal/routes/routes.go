package routes

import (
	"log"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/config"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/handlers"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/notifications"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/repository"
	"github.com/absolutdee/PTThaiPlus-sub000/internal/services"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	sessionRepo := repository.NewSessionRepository(db)
	packageRepo := repository.NewPackageRepository(db)
	hoursRepo := repository.NewWorkingHoursRepository(db)

	hub := notifications.NewHub()
	go hub.Run()

	slotService := services.NewSlotService(sessionRepo, hoursRepo)
	sessionService := services.NewSessionService(db, sessionRepo, packageRepo, hoursRepo, hub, services.Policy{
		MinimumLead:    cfg.MinimumLead(),
		MaxReschedules: cfg.MaxReschedules,
		AutoConfirm:    cfg.AutoConfirm,
	})

	slotHandler := handlers.NewSlotHandler(slotService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	eventsHandler := handlers.NewEventsHandler(hub)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	trainers := v1.Group("/trainers")
	trainers.Get("/:id/slots", slotHandler.GetAvailableSlots)

	sessions := v1.Group("/sessions")
	sessions.Post("/book", sessionHandler.CreateBooking)
	sessions.Get("", sessionHandler.ListSessions)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Post("/:id/confirm", sessionHandler.ConfirmSession)
	sessions.Post("/:id/cancel", sessionHandler.CancelSession)
	sessions.Post("/:id/complete", sessionHandler.CompleteSession)
	sessions.Post("/:id/reschedule", sessionHandler.RescheduleSession)

	v1.Use("/ws/sessions", eventsHandler.RequireUpgrade)
	v1.Get("/ws/sessions", websocket.New(eventsHandler.Subscribe))

	if err := registerDocsRoutes(app, cfg); err != nil {
		log.Printf("routes: api docs disabled: %v", err)
	}
}
