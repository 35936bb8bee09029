package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/repository"
	"boxoffice/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	var (
		olderThanMin int
		limit        int
		dryRun       bool
	)
	flag.IntVar(&olderThanMin, "older-than-min", 1440, "Only sweep holds expired at least this many minutes ago")
	flag.IntVar(&limit, "limit", 2000, "Maximum holds to delete in one run")
	flag.BoolVar(&dryRun, "dry-run", false, "Count reclaimable holds without deleting them")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, "text")

	if olderThanMin < 0 || limit < 0 {
		slog.Error("older-than-min and limit must not be negative")
		os.Exit(2)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// NATS нужен только для события reservations.reaped, без него чистка все равно выполняется
	var publisher service.EventPublisher
	cfg.NATS.ClientID = "boxoffice-reaper"
	if natsClient, err := messaging.NewNATSClient(cfg.NATS); err != nil {
		slog.Warn("NATS unavailable, reaped event will not be published", "error", err)
	} else {
		defer natsClient.Close()
		publisher = natsClient
	}

	repos := repository.NewRepositories(db)
	reaper := service.NewReaperService(db, repos.Reservations, publisher, cfg.Reservation)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := reaper.Sweep(ctx, service.SweepOptions{
		OlderThan: time.Duration(olderThanMin) * time.Minute,
		Limit:     limit,
		DryRun:    dryRun,
	})
	if err != nil {
		slog.Error("Sweep failed", "error", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
