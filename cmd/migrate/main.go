package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/agentx/chatbot-backend/internal/config"
	"github.com/agentx/chatbot-backend/internal/database"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s up|down|version\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if cfg.Database.Driver == "memory" {
		log.Fatal("The memory driver has no schema to migrate")
	}

	switch flag.Arg(0) {
	case "up":
		err = database.RunMigrations(cfg.Database)
	case "down":
		err = database.RollbackMigration(cfg.Database)
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = database.MigrationVersion(cfg.Database)
		if err == nil {
			fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("Migration failed:", err)
	}
}
