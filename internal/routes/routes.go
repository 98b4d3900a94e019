package routes

import (
	"log"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachdesk/backend/internal/config"
	"github.com/coachdesk/backend/internal/database"
	"github.com/coachdesk/backend/internal/handlers"
	"github.com/coachdesk/backend/internal/meeting"
	"github.com/coachdesk/backend/internal/middleware"
	"github.com/coachdesk/backend/internal/repository"
	"github.com/coachdesk/backend/internal/services"
	eventws "github.com/coachdesk/backend/internal/websocket"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) error {
	userRepo := repository.NewUserRepository(db)
	appointmentRepo := repository.NewAppointmentRepository(db)

	var meetingRegistry meeting.Registry = meeting.NewMemoryRegistry()
	if cfg.RedisURL != "" {
		redisClient, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		meetingRegistry = meeting.NewRedisRegistry(redisClient)
	} else {
		log.Println("REDIS_URL not set, using in-memory meeting registry")
	}

	eventHub := eventws.NewHub()
	go eventHub.Run()

	appointmentService := services.NewAppointmentService(
		db,
		appointmentRepo,
		userRepo,
		meetingRegistry,
		eventHub,
	)
	appointmentHandler := handlers.NewAppointmentHandler(appointmentService)
	eventsHandler := handlers.NewEventsHandler(eventHub, cfg.JWTSecret)

	api := app.Group("/api")
	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	appointments := authProtected.Group("/appointments")
	appointments.Post("/book", appointmentHandler.BookAppointment)
	appointments.Get("", appointmentHandler.ListAppointments)
	appointments.Get("/:id", appointmentHandler.GetAppointment)
	appointments.Get("/:id/actions", appointmentHandler.GetActions)
	appointments.Put("/:id/status", appointmentHandler.UpdateStatus)
	appointments.Put("/:id/schedule", appointmentHandler.Reschedule)
	appointments.Put("/:id/notes", appointmentHandler.UpdateNotes)
	appointments.Post("/:id/join", appointmentHandler.JoinMeeting)

	meetings := authProtected.Group("/meetings")
	meetings.Post("/leave", appointmentHandler.LeaveMeeting)

	api.Use("/v1/ws", eventsHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(eventsHandler.HandleWebSocket))

	return nil
}
