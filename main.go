package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"payment-engine/internal/config"
	"payment-engine/internal/engine"
	"payment-engine/internal/logging"
	"payment-engine/internal/metrics"
	"payment-engine/internal/notify"
	"payment-engine/internal/rules"
	"payment-engine/internal/store"
	"payment-engine/internal/stream"
	"payment-engine/internal/summary"
)

func main() {
	config.LoadEnv()
	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.Database.Host != "" {
		connStr := store.ConnString(cfg.Database)

		if err := store.RunMigrations(connStr, "migrations"); err != nil {
			log.Fatal(err)
		}

		pool, err := store.GetPool(connStr)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()

		st = store.NewPostgresStore(pool)
	} else {
		logger.Warn("No database configured, using in-memory store; pending state will not survive a restart")
		st = store.NewMemoryStore()
	}

	evaluator := rules.NewEvaluator(cfg.Engine, nil)
	sender := notify.NewSender(cfg.Webhook.Timeout())
	notifier := notify.NewNotifier(sender, logger)

	var publisher engine.Publisher
	if cfg.Kafka.Broker.URL != "" {
		kafkaPublisher := stream.NewPublisher(stream.NewWriter(cfg.Kafka), logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	eng := engine.New(st, evaluator, notifier, publisher, cfg.Engine, logger)

	if err := eng.RecoverPending(ctx); err != nil {
		logger.Error("Error recovering pending payments", "error", err)
	}

	if cfg.Kafka.Broker.URL != "" {
		requestReader := stream.NewReader(cfg.Kafka)
		defer requestReader.Close()
		go stream.ReadPaymentRequests(ctx, requestReader, eng, logger)
	}

	aggregator := summary.NewAggregator(st)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /summary", func(w http.ResponseWriter, r *http.Request) {
		s, err := aggregator.Summarize(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s)
	})

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := eng.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping engine", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", "error", err)
		}
	}()

	logger.Info("Starting server", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
