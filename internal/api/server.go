package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vaidashi/marketplace-api/internal/auth"
	"github.com/vaidashi/marketplace-api/internal/config"
	"github.com/vaidashi/marketplace-api/internal/database"
	"github.com/vaidashi/marketplace-api/internal/handlers"
	"github.com/vaidashi/marketplace-api/internal/models"
	"github.com/vaidashi/marketplace-api/internal/outbox"
	"github.com/vaidashi/marketplace-api/internal/pricing"
	"github.com/vaidashi/marketplace-api/internal/repository"
	"github.com/vaidashi/marketplace-api/internal/service"
	"github.com/vaidashi/marketplace-api/pkg/circuitbreaker"
	"github.com/vaidashi/marketplace-api/pkg/kafka"
	"github.com/vaidashi/marketplace-api/pkg/logger"
	"github.com/vaidashi/marketplace-api/pkg/metrics"
	"github.com/vaidashi/marketplace-api/pkg/middleware"
	"github.com/vaidashi/marketplace-api/pkg/ratelimit"
	"github.com/vaidashi/marketplace-api/pkg/retry"
)

// OrderAPI is the order lifecycle surface the handlers call
type OrderAPI interface {
	GetOrder(ctx context.Context, actor *models.Principal, orderID string) (*models.Order, error)
	AcceptDropoff(ctx context.Context, actor *models.Principal, orderID, code string) (*models.Order, error)
	MarkReady(ctx context.Context, actor *models.Principal, orderID string) (*models.Order, error)
	VerifyPickup(ctx context.Context, actor *models.Principal, orderID, code string) (*models.Order, error)
}

// CouponAPI is the coupon surface the handlers call
type CouponAPI interface {
	Validate(ctx context.Context, code string, cart pricing.Cart) (*service.Validation, error)
	Redeem(ctx context.Context, actor *models.Principal, code, orderID string) (*service.Redemption, error)
}

// RefundAPI is the refund override surface the handlers call
type RefundAPI interface {
	Override(ctx context.Context, admin *models.Principal, refundID string, action models.RefundAction, notes string) (*service.OverrideResult, error)
	ListHolds(ctx context.Context, vendorID string) ([]*models.PayoutHold, error)
}

// DeadLetterAPI is the dead letter admin surface the handlers call
type DeadLetterAPI interface {
	List(ctx context.Context, status string, page, pageSize int) (*service.DeadLetterPage, error)
	Retry(ctx context.Context, id int64) (*models.OutboxMessage, error)
	Discard(ctx context.Context, id int64, reason string) error
}

type Server struct {
	config     *config.Config
	logger     logger.Logger
	router     *mux.Router
	httpServer *http.Server
	db         *database.Database
	metrics    *metrics.Metrics

	authenticator *auth.Authenticator
	codeLimiter   *ratelimit.KeyedLimiter
	breaker       *circuitbreaker.CircuitBreaker

	orders      OrderAPI
	coupons     CouponAPI
	refunds     RefundAPI
	deadLetters DeadLetterAPI

	outboxProcessor     *outbox.Processor
	deadLetterProcessor *outbox.DeadLetterProcessor
	kafkaProducer       *kafka.Producer
	kafkaConsumer       *kafka.Consumer
}

// NewServer wires the database, services, outbox workers and, when enabled,
// Kafka. Nothing runs until Start.
func NewServer(cfg *config.Config, logger logger.Logger) (*Server, error) {
	db, err := database.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DB.AutoMigrate {
		if err := db.RunMigrations(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	m := metrics.New()

	orderRepo := repository.NewOrderRepository(db, logger)
	couponRepo := repository.NewCouponRepository(db, logger)
	refundRepo := repository.NewRefundRepository(db, logger)
	notificationRepo := repository.NewNotificationRepository(db, logger)
	userRepo := repository.NewUserRepository(db, logger)
	outboxRepo := repository.NewOutboxRepository(db, logger)
	dlqRepo := repository.NewDeadLetterRepository(db, logger)

	notificationService := service.NewNotificationService(notificationRepo, userRepo, logger)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	outboxProcessor := outbox.NewProcessor(outboxRepo, outbox.ProcessorConfig{
		PollingInterval: cfg.Outbox.PollingInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxRetries:      cfg.Outbox.MaxRetries,
		MessageTimeout:  cfg.Outbox.MessageTimeout,
		ClaimLease:      cfg.Outbox.ClaimLease,
	}, logger, m)

	deadLetterProcessor := outbox.NewDeadLetterProcessor(dlqRepo, logger, &outbox.DeadLetterProcessorConfig{
		PollingInterval: cfg.DLQ.PollingInterval,
		BatchSize:       cfg.DLQ.BatchSize,
		MaxRetries:      cfg.DLQ.MaxRetries,
		BackoffStrategy: &retry.ExponentialBackoff{
			InitialInterval: 1 * time.Second,
			MaxInterval:     2 * time.Minute,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		},
	})

	s := &Server{
		config:              cfg,
		logger:              logger,
		db:                  db,
		metrics:             m,
		authenticator:       auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, userRepo, logger),
		codeLimiter:         ratelimit.NewKeyedLimiter(cfg.CodeLimit.PerMinute, cfg.CodeLimit.Burst, 30*time.Minute),
		breaker:             breaker,
		orders:              service.NewOrderService(orderRepo, logger, m),
		coupons:             service.NewCouponService(couponRepo, orderRepo, logger, m),
		refunds:             service.NewRefundService(refundRepo, logger),
		deadLetters:         service.NewDeadLetterService(dlqRepo, logger),
		outboxProcessor:     outboxProcessor,
		deadLetterProcessor: deadLetterProcessor,
	}

	if err := s.setupDelivery(notificationService); err != nil {
		s.closeResources()
		return nil, err
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupDelivery registers the outbox handlers. With Kafka enabled events are
// published and the notification service runs behind the consumer group;
// otherwise the outbox calls it directly.
func (s *Server) setupDelivery(notifications *service.NotificationService) error {
	var delivery outbox.MessageHandler = notifications

	if s.config.Kafka.Enabled {
		producer, err := kafka.NewProducer(s.config.Kafka.Brokers, s.logger)
		if err != nil {
			return err
		}
		s.kafkaProducer = producer

		consumer, err := kafka.NewConsumer(&kafka.ConsumerConfig{
			Brokers:       s.config.Kafka.Brokers,
			Topics:        []string{s.config.Kafka.LifecycleTopic},
			ConsumerGroup: s.config.Kafka.ConsumerGroup,
		}, s.logger)
		if err != nil {
			return err
		}
		s.kafkaConsumer = consumer
		consumer.RegisterHandler(s.config.Kafka.LifecycleTopic, handlers.NewLifecycleEventsHandler(notifications, s.logger))

		delivery = outbox.NewKafkaHandler(producer, s.breaker, s.config.Kafka.LifecycleTopic, s.logger)
	}

	for _, eventType := range models.EventTypes {
		s.outboxProcessor.RegisterHandler(eventType, delivery)
		s.deadLetterProcessor.RegisterHandler(eventType, delivery)
	}

	if !s.config.Kafka.Enabled {
		audit := outbox.NewLoggingHandler(s.logger)
		s.outboxProcessor.RegisterHandler(models.EventCouponRedeemed, audit)
		s.deadLetterProcessor.RegisterHandler(models.EventCouponRedeemed, audit)
	}

	return nil
}

// Start runs the background workers and blocks serving HTTP
func (s *Server) Start() error {
	s.outboxProcessor.Start()
	s.deadLetterProcessor.Start()
	s.codeLimiter.StartCleanup(5 * time.Minute)

	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Start(); err != nil {
			// the outbox keeps publishing; notifications wait for the consumer
			s.logger.Error("Failed to start Kafka consumer", "error", err)
		}
	}

	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr, "kafka", s.config.Kafka.Enabled)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting requests, then stops the workers and closes
// Kafka and the database
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.outboxProcessor.Stop()
	s.deadLetterProcessor.Stop()
	s.codeLimiter.Stop()
	s.closeResources()

	return err
}

func (s *Server) closeResources() {
	if s.kafkaConsumer != nil {
		if err := s.kafkaConsumer.Stop(); err != nil {
			s.logger.Error("Error stopping Kafka consumer", "error", err)
		}
	}

	if s.kafkaProducer != nil {
		if err := s.kafkaProducer.Close(); err != nil {
			s.logger.Error("Error closing Kafka producer", "error", err)
		}
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Error closing database connection", "error", err)
	}
}

// routes builds the router
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.healthCheckHandler).Methods(http.MethodGet)

	codeLimit := middleware.NewRateLimiter(s.codeLimiter, callerKey, 60, s.logger).Middleware

	api.Handle("/orders/{id}", s.authenticator.Require(http.HandlerFunc(s.getOrderHandler))).Methods(http.MethodGet)

	agent := api.PathPrefix("/agent").Subrouter()
	agent.Use(s.authenticator.Require, auth.RequireRole(models.RoleAgent))
	agent.Handle("/accept-dropoff", codeLimit(http.HandlerFunc(s.acceptDropoffHandler))).Methods(http.MethodPost)
	agent.HandleFunc("/mark-ready", s.markReadyHandler).Methods(http.MethodPost)
	agent.Handle("/verify-pickup", codeLimit(http.HandlerFunc(s.verifyPickupHandler))).Methods(http.MethodPost)

	vendor := api.PathPrefix("/vendor").Subrouter()
	vendor.Use(s.authenticator.Require, auth.RequireRole(models.RoleVendor))
	vendor.Handle("/accept-dropoff", codeLimit(http.HandlerFunc(s.acceptDropoffHandler))).Methods(http.MethodPost)
	vendor.HandleFunc("/mark-ready", s.markReadyHandler).Methods(http.MethodPost)

	coupon := api.PathPrefix("/coupon").Subrouter()
	coupon.Handle("/preview", s.authenticator.Optional(http.HandlerFunc(s.couponPreviewHandler))).Methods(http.MethodPost)
	coupon.Handle("/redeem", s.authenticator.Require(
		auth.RequireRole(models.RoleCustomer)(http.HandlerFunc(s.couponRedeemHandler)))).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.authenticator.Require, auth.RequireRole(models.RoleAdmin))
	admin.HandleFunc("/refunds/{id}/override", s.refundOverrideHandler).Methods(http.MethodPut)
	admin.HandleFunc("/payout-holds", s.listPayoutHoldsHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters", s.getDeadLettersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/dead-letters/{id}/retry", s.retryDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/dead-letters/{id}/discard", s.discardDeadLetterHandler).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreakerHandler).Methods(http.MethodPost)
	admin.HandleFunc("/rate-limits", s.getRateLimitsHandler).Methods(http.MethodGet)

	return r
}

// callerKey limits code attempts per signed in user, falling back to the client IP
func callerKey(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p.UserID
	}
	return middleware.ClientIP(r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs every request once it has been served
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("Request processed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"remoteAddr", r.RemoteAddr)
	})
}

// metricsMiddleware labels requests by route template so ids do not blow up
// the label cardinality
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, r.Method, rec.status, time.Since(start))
	})
}
