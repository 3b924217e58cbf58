package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/config"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/notify"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load("NOTIFIER_PORT", "8082")
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)
	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	senders, err := notify.SendersFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure notification senders")
	}
	dispatcher := notify.NewDispatcher(logger, senders...)

	consumer, err := events.NewKafkaConsumerWithRetry(cfg.KafkaBrokers, cfg.NotifierGroupID, dispatcher, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create notification consumer")
	}
	defer consumer.Close()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"metrics": consumer.GetMetrics(),
		})
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.WithFields(logrus.Fields{
		"group_id": cfg.NotifierGroupID,
		"senders":  len(senders),
		"port":     cfg.Port,
	}).Info("Notification worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("Shutting down notification worker...")
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Notification worker stopped with error")
	}
	logger.WithField("metrics", consumer.GetMetrics()).Info("Notification worker exited")
}
