package main

import (
	"log"
	"os"

	"github.com/modulecore/lifecycle/internal/infrastructure/migrations"
)

func main() {
	config, err := migrations.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load migration config: %v", err)
	}

	manager, err := migrations.NewManager(config)
	if err != nil {
		log.Fatalf("Failed to create migration manager: %v", err)
	}

	cli := migrations.NewCLI(manager, config.Logger)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
