package api

import (
	"context"
	"fmt"
	"net/http"

	"boxoffice/internal/cache"
	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/dispatch"
	"boxoffice/internal/external"
	"boxoffice/internal/handlers"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/middleware"
	"boxoffice/internal/repository"
	"boxoffice/internal/search"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server представляет HTTP сервер API
type Server struct {
	router   *gin.Engine
	config   *config.Config
	db       *database.DB
	nats     *messaging.NATSClient
	rabbit   *messaging.RabbitPublisher
	valkey   *cache.ValkeyClient
	limiter  middleware.Limiter
	services *service.Services
	repos    *repository.Repositories
}

// NewServer создает новый экземпляр сервера
func NewServer(cfg *config.Config) *Server {
	gin.SetMode(cfg.GinMode)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	natsClient, err := messaging.NewNATSClient(cfg.NATS)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", "error", err)
	}

	server := &Server{
		config: cfg,
		db:     db,
		nats:   natsClient,
	}

	deps := service.Dependencies{
		Publisher: natsClient,
	}

	// Кеш и лимитер необязательны: без Redis сервис работает напрямую с БД
	valkeyClient, err := cache.NewValkeyClient(cfg.Redis)
	if err != nil {
		logger.Get().Warn("Redis unavailable, running without availability cache", "error", err)
	} else {
		server.valkey = valkeyClient
		deps.Cache = valkeyClient
		if cfg.RateLimit.Enabled {
			server.limiter = cache.NewRateLimiter(valkeyClient.Redis(),
				cfg.RateLimit.Capacity, cfg.RateLimit.RefillTokens, cfg.RateLimit.RefillInterval, cfg.RateLimit.TTL)
		}
	}

	var es *search.ElasticsearchClient
	if cfg.Elasticsearch.Enabled {
		es, err = search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			logger.Get().Warn("Elasticsearch unavailable, ticket search disabled", "error", err)
			es = nil
		}
	}
	repos := repository.NewRepositoriesWithElasticsearch(db, es)
	server.repos = repos

	rabbit, err := messaging.NewRabbitPublisher(cfg.RabbitMQ)
	if err != nil {
		logger.Get().Error("RabbitMQ unavailable, confirmations will be recorded for retry", "error", err)
		rabbit = messaging.NewLazyRabbitPublisher(cfg.RabbitMQ)
	}
	server.rabbit = rabbit
	deps.Dispatcher = dispatch.NewQueueDispatcher(rabbit, repos.DispatchFailures)

	checkoutClient := external.NewCheckoutClient(cfg.Checkout)

	deps.Tx = db
	deps.Events = repos.Events
	deps.TicketTypes = repos.TicketTypes
	deps.Reservations = repos.Reservations
	deps.Tickets = repos.Tickets
	deps.Notifications = repos.Notifications
	deps.DispatchFailures = repos.DispatchFailures
	deps.Provider = checkoutClient
	deps.Verifier = checkoutClient
	if repos.Search.Enabled() {
		deps.Index = repos.Search
	}

	server.services = service.NewServices(deps, cfg)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	server.router = router

	server.setupRoutes()

	return server
}

// setupRoutes настраивает все API роуты
func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services)

	api := s.router.Group("/api")
	{
		events := api.Group("/events")
		{
			events.POST("/:id/checkout", middleware.RateLimit(s.limiter, s.config.RateLimit.Prefix), h.StartCheckout)
			events.GET("/:id/ticket-types", h.ListTicketTypes)
		}

		api.POST("/checkout/webhook", h.CheckoutWebhook)
		api.GET("/tickets/:token", h.GetTicket)

		// Административные маршруты под Basic Auth
		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(s.config.AdminUser, s.config.AdminPassword))
		{
			admin.POST("/tickets/issue", h.IssueTickets)
			admin.GET("/tickets/search", h.SearchTickets)
			admin.POST("/tickets/:token/resend", h.ResendTicket)
			admin.POST("/tickets/:token/checkin", h.CheckInTicket)
			admin.POST("/reaper/sweep", h.SweepReservations)
		}
	}

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthCheck обрабатывает health check запросы
func (s *Server) healthCheck(c *gin.Context) {
	health := s.db.HealthCheck(c.Request.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   health.Status,
		"service":  "boxoffice-api",
		"database": health,
	})
}

// Run запускает HTTP сервер
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%s", s.config.Port)
	return s.router.Run(addr)
}

// GetRouter возвращает роутер для тестирования
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Cleanup дожидается отправки подтверждений и закрывает соединения
func (s *Server) Cleanup(ctx context.Context) error {
	if err := s.services.Fulfillment.Wait(ctx); err != nil {
		logger.Get().Warn("Pending confirmation dispatches abandoned", "error", err)
	}

	if s.rabbit != nil {
		if err := s.rabbit.Close(); err != nil {
			logger.Get().Error("Error closing RabbitMQ connection", "error", err)
		}
	}

	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			logger.Get().Error("Error closing NATS connection", "error", err)
		}
	}

	if s.valkey != nil {
		if err := s.valkey.Close(); err != nil {
			logger.Get().Error("Error closing Redis connection", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logger.Get().Error("Error closing database connection", "error", err)
			return err
		}
	}

	return nil
}
