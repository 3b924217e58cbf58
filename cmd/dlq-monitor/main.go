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
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load("DLQ_MONITOR_PORT", "8083")
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)
	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	processor, err := events.NewDLQProcessor(cfg.KafkaBrokers, cfg.DLQGroupID, cfg.DLQReplay, cfg.DLQReplayDelay, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ processor")
	}
	defer processor.Close()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, map[string]interface{}{"status": "healthy"})
	}).Methods("GET")
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, processor.GetDLQStats())
	}).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.ProcessDLQ(gctx)
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
		"topic":  events.CustomerNotificationDLQTopic,
		"replay": cfg.DLQReplay,
		"port":   cfg.Port,
	}).Info("DLQ monitor started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("Shutting down DLQ monitor...")
	case <-gctx.Done():
	}
	cancel()

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("DLQ monitor stopped with error")
	}
	logger.WithField("stats", processor.GetDLQStats()).Info("DLQ monitor exited")
}

func respondWithJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}
