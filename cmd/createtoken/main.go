package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/agentx/chatbot-backend/internal/auth"
	"github.com/agentx/chatbot-backend/internal/config"
	"github.com/agentx/chatbot-backend/internal/database"
	"github.com/agentx/chatbot-backend/internal/repository/postgres"
)

// createtoken prints a token pair for an existing user, signed with the
// configured secret. Useful for opening the realtime endpoint by hand.
func main() {
	email := flag.String("email", "", "User email")
	flag.Parse()
	if *email == "" {
		flag.Usage()
		log.Fatal("-email is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	user, err := postgres.NewStore(db.DB).Users().GetByEmail(context.Background(), *email)
	if err != nil {
		log.Fatal("Failed to find user:", err)
	}

	jwtService := auth.NewJWTService(cfg.Auth.SecretKey, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	access, refresh, err := jwtService.GenerateTokenPair(user.ID)
	if err != nil {
		log.Fatal("Failed to sign tokens:", err)
	}

	fmt.Printf("Tokens for %s:\n", user.Email)
	fmt.Printf("   Access: %s\n", access)
	fmt.Printf("   Refresh: %s\n", refresh)
	fmt.Printf("\nRealtime URL: ws://%s/chat-session/ws/<session-id>/?token=%s\n", cfg.Server.Addr(), access)
}
