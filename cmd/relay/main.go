// Command relay is the relay process entrypoint: it wires the Postgres
// store, the configured bus publisher, the observability surface, and the
// poll/prune engine, then blocks until SIGINT/SIGTERM, draining the
// in-flight record before exiting.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/outboxrelay/outboxrelay/internal/adapters/health"
	"github.com/outboxrelay/outboxrelay/internal/adapters/messaging/kafka"
	"github.com/outboxrelay/outboxrelay/internal/adapters/messaging/rabbitmq"
	"github.com/outboxrelay/outboxrelay/internal/adapters/observability"
	"github.com/outboxrelay/outboxrelay/internal/adapters/relay"
	"github.com/outboxrelay/outboxrelay/internal/adapters/store/postgres"
	"github.com/outboxrelay/outboxrelay/internal/config"
	"github.com/outboxrelay/outboxrelay/internal/core/ports"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	sugar.Info("relay: starting outbox relay service")

	cfg := config.LoadRelayConfig()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		sugar.Fatalw("relay: failed to open database", "error", err)
	}
	defer pool.Close()

	store := postgres.New(pool)

	var publisher ports.Publisher
	switch cfg.Bus {
	case config.BusRabbitMQ:
		rmq, err := rabbitmq.New(cfg.RabbitMQURL)
		if err != nil {
			sugar.Fatalw("relay: failed to connect to RabbitMQ", "error", err)
		}
		publisher = rmq
	default:
		publisher = kafka.New(cfg.KafkaBrokers)
	}
	defer publisher.Close()

	var waker relay.Waker
	if listener, err := postgres.NewNotifyListener(cfg.DatabaseURL, sugar); err != nil {
		sugar.Warnw("relay: LISTEN/NOTIFY unavailable, falling back to pure polling", "error", err)
	} else {
		defer listener.Close()
		waker = listener
	}

	metrics := observability.New(prometheus.DefaultRegisterer)
	engine := relay.New(store, publisher, cfg, metrics, sugar, waker)

	healthHandler := health.NewHandler(pool, engine)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health/live", healthHandler.Live)
	mux.HandleFunc("/health/ready", healthHandler.Ready)

	httpServer := &http.Server{
		Addr:    ":8090",
		Handler: mux,
	}

	go func() {
		sugar.Info("relay: starting health/metrics server on :8090")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("relay: health server error", "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := engine.Run(runCtx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		sugar.Infow("relay: received signal, initiating shutdown", "signal", sig)
		cancel()
	case err := <-errChan:
		sugar.Errorw("relay: fatal error, shutting down", "error", err)
		cancel()
	}
	<-engineDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("relay: error shutting down health server", "error", err)
	}

	sugar.Info("relay: shutdown complete")
}
