package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/analytics"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/cache"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/catalog"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/circuitbreaker"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/config"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/middleware"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/notify"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/orders"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store/memstore"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store/mongostore"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store/pgstore"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load("ADMIN_API_PORT", "8080")
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer closeStore()

	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures: cfg.BreakerFailures,
		OpenTimeout: cfg.BreakerOpenTime,
		MaxProbes:   1,
	}, logger)
	guarded := store.NewGuarded(backend, breakers.Breaker("store"), cfg.StoreCallTimeout, logger)

	var lookups cache.Cache = cache.NewMemory()
	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		lookups = cache.NewRedisCache(client, "admin", logger)
		logger.Info("Using Redis for lookup caching")
	}

	hub := websocket.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	// With Kafka, status changes and notifications go through the bus and a
	// per-replica consumer feeds the local hub. Without it everything stays
	// in process.
	senders, err := notify.SendersFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure notification senders")
	}
	var (
		publisher orders.Publisher = hub
		notifier  orders.Notifier  = notify.NewDispatcher(logger, senders...)
	)
	if cfg.KafkaEnabled() {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher, notifier = producer, producer

		// Every replica needs every event for its own dashboards.
		groupID := "admin-api-" + uuid.NewString()
		consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, groupID, hub, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka consumer")
		}
		defer consumer.Close()

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Error("Status change consumer stopped")
			}
		}()
		logger.WithField("brokers", cfg.KafkaBrokers).Info("Kafka enabled")
	} else {
		logger.Info("Kafka disabled, delivering events in process")
	}

	repo := orders.NewRepository(guarded, lookups, logger)
	workflow := orders.NewWorkflow(repo, notifier, publisher, logger)
	resolver := tenant.NewResolver(guarded, lookups, logger)

	router := mux.NewRouter()
	router.Use(middleware.Recover(logger))
	router.Use(middleware.Logging(logger))

	router.HandleFunc("/health", healthHandler(breakers, hub, cfg)).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(middleware.Identity(resolver, logger))
	orders.NewHandler(repo, workflow, cfg.BulkConcurrency, logger).Register(api)
	analytics.NewHandler(repo, catalog.NewReader(guarded, logger), logger).Register(api)
	api.HandleFunc("/ws", hub.HandleWebSocket)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      middleware.CORS()(router),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":          cfg.Port,
			"store_backend": cfg.StoreBackend,
		}).Info("Starting admin API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// openStore connects the configured backend and returns a func that
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTransactions, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to create MongoDB indexes")
		}
		return s, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Close(closeCtx); err != nil {
				logger.WithError(err).Error("Failed to close MongoDB")
			}
		}, nil

	case config.StorePostgres:
		s, err := pgstore.Open(ctx, cfg.PostgresDSN, cfg.DBConnectAttempts, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				logger.WithError(err).Error("Failed to close PostgreSQL")
			}
		}, nil

	case config.StoreMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func healthHandler(breakers *circuitbreaker.Manager, hub *websocket.Hub, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if !breakers.Healthy() {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           status,
			"store_backend":    cfg.StoreBackend,
			"kafka_enabled":    cfg.KafkaEnabled(),
			"websocket_client": hub.GetClientCount(),
			"circuit_breakers": breakers.AllMetrics(),
		})
	}
}
