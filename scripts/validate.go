package main

import (
	"flag"
	"log/slog"
	"os"

	"boxoffice/internal/logger"
	"boxoffice/internal/validation"
)

func main() {
	var (
		baseURL string
		eventID int64
	)
	flag.StringVar(&baseURL, "url", "http://localhost:8081", "Base URL for API validation")
	flag.Int64Var(&eventID, "event-id", 1, "Published event to check availability for")
	flag.Parse()

	logger.Init("info", "text")
	slog.Info("Starting API smoke validation", "url", baseURL, "event_id", eventID)

	validator := validation.NewSmokeValidator(baseURL, eventID)
	if err := validator.ValidateAll(); err != nil {
		slog.Error("Валидация не пройдена", "error", err)
		os.Exit(1)
	}

	slog.Info("Валидация успешно пройдена")
}
