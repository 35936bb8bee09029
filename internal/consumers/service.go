package consumers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"boxoffice/internal/cache"
	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/dispatch"
	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/search"
	"boxoffice/internal/service"

	"github.com/nats-io/stan.go"
)

const queueGroup = "boxoffice-consumers"

type ConsumerService struct {
	db       *database.DB
	nats     *messaging.NATSClient
	rabbit   *messaging.RabbitPublisher
	valkey   *cache.ValkeyClient
	worker   *dispatch.Worker
	consumer *messaging.RabbitConsumer
	repos    *repository.Repositories
	services *service.Services
	handlers *Handlers

	subs   []stan.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumerService(cfg *config.Config) (*ConsumerService, error) {
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		db.Close()
		return nil, err
	}

	cs := &ConsumerService{
		db:       db,
		nats:     natsClient,
		consumer: messaging.NewRabbitConsumer(cfg.RabbitMQ),
	}

	deps := service.Dependencies{Publisher: natsClient}

	valkeyClient, err := cache.NewValkeyClient(cfg.Redis)
	if err != nil {
		logger.Get().Warn("Redis unavailable, availability cache will not be invalidated", "error", err)
	} else {
		cs.valkey = valkeyClient
		deps.Cache = valkeyClient
	}

	var es *search.ElasticsearchClient
	if cfg.Elasticsearch.Enabled {
		es, err = search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			logger.Get().Warn("Elasticsearch unavailable, tickets will not be indexed", "error", err)
			es = nil
		}
	}
	cs.repos = repository.NewRepositoriesWithElasticsearch(db, es)

	rabbit, err := messaging.NewRabbitPublisher(cfg.RabbitMQ)
	if err != nil {
		logger.Get().Error("RabbitMQ publisher unavailable, retried confirmations will be recorded again", "error", err)
		rabbit = messaging.NewLazyRabbitPublisher(cfg.RabbitMQ)
	}
	cs.rabbit = rabbit
	deps.Dispatcher = dispatch.NewQueueDispatcher(rabbit, cs.repos.DispatchFailures)

	checkoutClient := external.NewCheckoutClient(cfg.Checkout)
	deps.Tx = db
	deps.Events = cs.repos.Events
	deps.TicketTypes = cs.repos.TicketTypes
	deps.Reservations = cs.repos.Reservations
	deps.Tickets = cs.repos.Tickets
	deps.Notifications = cs.repos.Notifications
	deps.DispatchFailures = cs.repos.DispatchFailures
	deps.Provider = checkoutClient
	deps.Verifier = checkoutClient
	cs.services = service.NewServices(deps, cfg)

	cs.worker = dispatch.NewWorker(dispatch.NewMailer(cfg.SMTP), cs.repos.DispatchFailures)

	var invalidator CacheInvalidator
	if cs.valkey != nil {
		invalidator = cs.valkey
	}
	cs.handlers = NewHandlers(cs.repos.Search, invalidator, cs.repos.TicketTypes)

	return cs, nil
}

// Services exposes the service layer to background jobs
func (cs *ConsumerService) Services() *service.Services {
	return cs.services
}

// NATS exposes the streaming client to handlers that subscribe on their own
func (cs *ConsumerService) NATS() *messaging.NATSClient {
	return cs.nats
}

func (cs *ConsumerService) Start(ctx context.Context) error {
	logger.Get().Info("Starting NATS consumers...")

	subscriptions := []struct {
		subject string
		handler stan.MsgHandler
	}{
		{subject: models.EventTicketsIssued, handler: cs.handlers.HandleTicketsIssued},
		{subject: models.EventReservationsCreated, handler: cs.handlers.HandleReservationsCreated},
		{subject: models.EventReservationsReaped, handler: cs.handlers.HandleReservationsReaped},
		{subject: models.EventTicketCheckedIn, handler: cs.handlers.HandleTicketCheckedIn},
	}
	for _, s := range subscriptions {
		sub, err := cs.nats.SubscribeQueue(s.subject, queueGroup, s.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
		}
		cs.subs = append(cs.subs, sub)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cs.cancel = cancel

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		if err := cs.consumer.Run(runCtx, cs.worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Get().Error("Confirmation worker stopped", "error", err)
		}
	}()

	logger.Get().Info("All consumers started successfully")
	return nil
}

func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	logger.Get().Info("Shutting down consumer service...")

	if cs.cancel != nil {
		cs.cancel()
	}

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Get().Warn("Confirmation worker did not stop in time")
	}

	if err := cs.services.Fulfillment.Wait(ctx); err != nil {
		logger.Get().Warn("Pending confirmation dispatches abandoned", "error", err)
	}

	for _, sub := range cs.subs {
		// Close keeps the durable subscription for the next start
		if err := sub.Close(); err != nil {
			logger.Get().Warn("Error closing subscription", "error", err)
		}
	}

	if cs.rabbit != nil {
		if err := cs.rabbit.Close(); err != nil {
			logger.Get().Error("Error closing RabbitMQ connection", "error", err)
		}
	}

	if cs.nats != nil {
		if err := cs.nats.Close(); err != nil {
			logger.Get().Error("Error closing NATS connection", "error", err)
		}
	}

	if cs.valkey != nil {
		if err := cs.valkey.Close(); err != nil {
			logger.Get().Error("Error closing Redis connection", "error", err)
		}
	}

	if cs.db != nil {
		if err := cs.db.Close(); err != nil {
			logger.Get().Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
