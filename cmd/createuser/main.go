package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/agentx/chatbot-backend/internal/audit"
	"github.com/agentx/chatbot-backend/internal/auth"
	"github.com/agentx/chatbot-backend/internal/config"
	"github.com/agentx/chatbot-backend/internal/database"
	"github.com/agentx/chatbot-backend/internal/logging"
	"github.com/agentx/chatbot-backend/internal/repository/postgres"
)

func main() {
	// Parse command line flags
	var (
		email    = flag.String("email", "", "User email")
		password = flag.String("password", "", "User password")
		username = flag.String("username", "", "Username")
	)
	flag.Parse()

	if *email == "" || *password == "" || *username == "" {
		flag.Usage()
		log.Fatal("-email, -username and -password are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	lg, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal("Failed to configure logging:", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	store := postgres.NewStore(db.DB)
	jwtService := auth.NewJWTService(cfg.Auth.SecretKey, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	authService := auth.NewService(store.Users(), jwtService, audit.NewLogger(lg))

	user, err := authService.Register(context.Background(), *username, *email, *password)
	if err != nil {
		log.Fatal("Failed to create user:", err)
	}

	fmt.Printf("Created user:\n")
	fmt.Printf("   ID: %s\n", user.ID)
	fmt.Printf("   Username: %s\n", user.Username)
	fmt.Printf("   Email: %s\n", user.Email)
}
