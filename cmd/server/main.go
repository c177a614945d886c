package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/api"
	"github.com/agentx/chatbot-backend/internal/api/middleware"
	"github.com/agentx/chatbot-backend/internal/auth"
	"github.com/agentx/chatbot-backend/internal/config"
	"github.com/agentx/chatbot-backend/internal/database"
	"github.com/agentx/chatbot-backend/internal/llm"
	"github.com/agentx/chatbot-backend/internal/logging"
	"github.com/agentx/chatbot-backend/internal/repository"
	"github.com/agentx/chatbot-backend/internal/repository/memstore"
	"github.com/agentx/chatbot-backend/internal/repository/postgres"
	"github.com/agentx/chatbot-backend/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	lg, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal("Failed to configure logging:", err)
	}

	store, err := openStore(cfg, lg)
	if err != nil {
		lg.WithError(err).Fatal("Failed to open store")
	}
	defer store.Close()

	gateway := llm.NewGateway(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		SystemPrompt:   cfg.LLM.SystemPrompt,
		RequestTimeout: cfg.LLM.RequestTimeout,
		MaxRetries:     cfg.LLM.MaxRetries,
	}, lg)
	if err := gateway.ValidateConfig(); err != nil {
		lg.WithError(err).Warn("LLM gateway is not configured; chat turns will fail")
	}

	jwtService := auth.NewJWTService(cfg.Auth.SecretKey, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	svc := services.NewServices(store, gateway, services.Options{
		JWT:           jwtService,
		MaxTokenLimit: cfg.Memory.MaxTokenLimit,
		SummaryPrompt: cfg.Memory.SummaryPrompt,
	}, lg)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Chatbot Backend",
		ErrorHandler: middleware.ErrorHandler(lg),
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: lg.Writer()}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.TrimSpace(cfg.Server.AllowedOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	api.SetupRoutes(app, svc, api.RouteConfig{AuthRateLimit: cfg.Server.AuthRateLimit})

	go func() {
		lg.WithField("addr", cfg.Server.Addr()).Info("Chatbot backend starting")
		if err := app.Listen(cfg.Server.Addr()); err != nil {
			lg.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("Shutting down")
	closed := svc.Registry.CloseAll(services.CloseGoingAway, "server shutdown")
	lg.WithField("connections", closed).Info("Closed realtime connections")

	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		lg.WithError(err).Error("Server shutdown failed")
	}
}

// openStore connects to the configured database, applying migrations first
// when enabled. The memory driver needs neither.
func openStore(cfg *config.Config, lg *logrus.Logger) (repository.Store, error) {
	if cfg.Database.Driver == "memory" {
		lg.Warn("Using in-memory store; data is lost on exit")
		return memstore.New(), nil
	}

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database); err != nil {
			return nil, err
		}
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := postgres.NewStore(db.DB)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
