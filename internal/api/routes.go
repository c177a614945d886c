package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentx/chatbot-backend/internal/api/handlers"
	"github.com/agentx/chatbot-backend/internal/api/middleware"
	"github.com/agentx/chatbot-backend/internal/services"
)

// RouteConfig carries the transport settings the routes need
type RouteConfig struct {
	AuthRateLimit int
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, svc *services.Services, cfg RouteConfig) {
	app.Use(middleware.Metrics())
	app.Use(middleware.AuditMiddleware(middleware.AuditConfig{
		Logger:    svc.Audit,
		SkipPaths: []string{"/health", "/metrics", "/chat-session/ws"},
	}))

	// ========================================
	// Public routes
	// ========================================

	app.Get("/health", handlers.Health(svc))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	user := app.Group("/user")
	user.Post("/users", middleware.AuthRateLimit(cfg.AuthRateLimit), handlers.Signup(svc))
	user.Post("/login", middleware.AuthRateLimit(cfg.AuthRateLimit), handlers.Login(svc))
	user.Post("/refresh", handlers.RefreshToken(svc))

	// ========================================
	// Realtime (token checked after upgrade)
	// ========================================

	app.Use("/chat-session/ws", handlers.RequireUpgrade())
	app.Get("/chat-session/ws/:id", handlers.Realtime(svc))

	// ========================================
	// Protected routes
	// ========================================

	chat := app.Group("/chat-session", middleware.AuthRequired(svc.Auth))
	chat.Post("/create-chat-session", handlers.CreateSession(svc))
	chat.Get("/get-chat-sessions", handlers.GetSessions(svc))
	chat.Get("/:id", handlers.GetSession(svc))
	chat.Delete("/:id", handlers.DeleteSession(svc))
	chat.Post("/:id/end", handlers.EndSession(svc))
	chat.Get("/:id/messages", handlers.GetSessionMessages(svc))
	chat.Post("/:id/messages", handlers.PostMessage(svc))
}
