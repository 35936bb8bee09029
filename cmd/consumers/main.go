package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boxoffice/cmd/consumers/handlers"
	"boxoffice/cmd/consumers/jobs"
	"boxoffice/internal/cache"
	"boxoffice/internal/config"
	"boxoffice/internal/consumers"
	"boxoffice/internal/dispatch"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	logger.Get().Info("Starting consumers service...")

	// Override NATS client ID for consumers
	cfg.NATS.ClientID = "boxoffice-consumers"

	consumerService, err := consumers.NewConsumerService(cfg)
	if err != nil {
		logger.Fatal("Failed to create consumer service", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumerService.Start(ctx); err != nil {
		logger.Fatal("Failed to start consumers", "error", err)
	}

	latePayments := handlers.NewLatePaymentHandler(dispatch.NewMailer(cfg.SMTP), cfg.OpsEmail)
	if _, err := consumerService.NATS().SubscribeQueue(models.EventLatePayment, "boxoffice-ops", latePayments.HandleLatePayment); err != nil {
		logger.Fatal("Failed to subscribe to late payments", "error", err)
	}

	// Без Redis каждая реплика подметает сама, блокировки строк не дают удалить бронь дважды
	var lease jobs.Leaser
	reaperLease, err := cache.NewLease(cfg.Lease)
	if err != nil {
		logger.Get().Warn("Reaper lease unavailable, sweeping without it", "error", err)
	} else {
		defer reaperLease.Close()
		lease = reaperLease
	}

	services := consumerService.Services()

	reaperJob := jobs.NewReservationReaperJob(services.Reaper, lease, cfg.Reservation.SweepInterval, cfg.Reservation.SweepOlderThan)
	reaperJob.Start(ctx)

	retryJob := jobs.NewDispatchRetryJob(services.Tickets, cfg.Reservation.DispatchRetryInterval)
	retryJob.Start(ctx)

	logger.Get().Info("Consumers service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Get().Info("Shutting down consumers service...")

	reaperJob.Stop()
	retryJob.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := consumerService.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("Error during shutdown", "error", err)
	}

	logger.Get().Info("Consumers service stopped")
}
