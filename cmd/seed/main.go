package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"

	"github.com/joho/godotenv"
)

var (
	eventName = flag.String("name", "Demo Night", "Event name")
	startsIn  = flag.Duration("starts-in", 30*24*time.Hour, "Time from now until the event starts")
	general   = flag.Int("general", 500, "General admission capacity")
	vip       = flag.Int("vip", 50, "VIP capacity")
	dryRun    = flag.Bool("dry-run", false, "Show what would be created without making changes")
)

type Seeder struct {
	events *repository.EventRepository
	types  *repository.TicketTypeRepository
	db     *database.DB
	dryRun bool
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, "text")

	slog.Info("Starting seeder...")

	db, err := database.Connect(cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	seeder := &Seeder{
		events: repository.NewEventRepository(db),
		types:  repository.NewTicketTypeRepository(db),
		db:     db,
		dryRun: *dryRun,
	}

	event, types := plan(*eventName, time.Now().Add(*startsIn).Truncate(time.Hour), *general, *vip)
	if err := seeder.Seed(context.Background(), event, types); err != nil {
		slog.Error("Failed to seed event", "error", err)
		os.Exit(1)
	}

	slog.Info("Seeding completed successfully!", "event_id", event.ID)
}

func intPtr(v int) *int { return &v }

// plan builds an event with a general and a VIP tier; a zero capacity skips the tier
func plan(name string, startsAt time.Time, general, vip int) (*models.Event, []*models.TicketType) {
	event := &models.Event{Name: name, StartsAt: startsAt, Published: true}

	var types []*models.TicketType
	if general > 0 {
		types = append(types, &models.TicketType{
			Name:        "General Admission",
			PriceCents:  2500,
			Quantity:    general,
			Active:      true,
			MaxPerOrder: intPtr(10),
		})
	}
	if vip > 0 {
		salesEnd := startsAt.Add(-24 * time.Hour)
		types = append(types, &models.TicketType{
			Name:        "VIP",
			PriceCents:  12000,
			Quantity:    vip,
			SalesEnd:    &salesEnd,
			Active:      true,
			MaxPerOrder: intPtr(4),
		})
	}
	return event, types
}

func (s *Seeder) Seed(ctx context.Context, event *models.Event, types []*models.TicketType) error {
	if s.dryRun {
		slog.Info("Dry run: would create event", "name", event.Name, "starts_at", event.StartsAt)
		for _, tt := range types {
			slog.Info("Dry run: would create ticket type", "name", tt.Name, "quantity", tt.Quantity, "price_cents", tt.PriceCents)
		}
		return nil
	}

	return s.db.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.events.Create(ctx, event); err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		for _, tt := range types {
			tt.EventID = event.ID
			if err := s.types.Create(ctx, tt); err != nil {
				return fmt.Errorf("failed to create ticket type %q: %w", tt.Name, err)
			}
			slog.Info("Created ticket type", "id", tt.ID, "name", tt.Name, "quantity", tt.Quantity)
		}
		return nil
	})
}
