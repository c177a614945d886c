package services

import (
	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/audit"
	"github.com/agentx/chatbot-backend/internal/auth"
	"github.com/agentx/chatbot-backend/internal/llm"
	"github.com/agentx/chatbot-backend/internal/memory"
	"github.com/agentx/chatbot-backend/internal/repository"
)

// Services holds all service instances
type Services struct {
	Store    repository.Store
	Gateway  *llm.Gateway
	Memory   *memory.Manager
	Auth     *auth.Service
	Chat     *ChatService
	Realtime *RealtimeService
	Registry *ConnectionRegistry
	Audit    *audit.Logger
}

// Options carries the settings NewServices needs from configuration
type Options struct {
	JWT           *auth.JWTService
	MaxTokenLimit int
	SummaryPrompt string
}

// NewServices wires the chat backend around a store and an LLM gateway
func NewServices(store repository.Store, gateway *llm.Gateway, opts Options, logger *logrus.Logger) *Services {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	auditLogger := audit.NewLogger(logger)
	mem := memory.NewManager(gateway,
		memory.WithMaxTokenLimit(opts.MaxTokenLimit),
		memory.WithSummaryPrompt(opts.SummaryPrompt),
		memory.WithLogger(logger),
	)

	authService := auth.NewService(store.Users(), opts.JWT, auditLogger)
	chat := NewChatService(store, gateway, mem, auditLogger, logger)
	registry := NewConnectionRegistry()

	return &Services{
		Store:    store,
		Gateway:  gateway,
		Memory:   mem,
		Auth:     authService,
		Chat:     chat,
		Realtime: NewRealtimeService(chat, authService, registry, auditLogger, logger),
		Registry: registry,
		Audit:    auditLogger,
	}
}
