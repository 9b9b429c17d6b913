package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/astromesh/observer/internal/bridge"
	"github.com/astromesh/observer/internal/config"
	"github.com/astromesh/observer/internal/logger"
	"github.com/astromesh/observer/internal/metrics"
	"github.com/astromesh/observer/internal/notifier"
	"github.com/astromesh/observer/internal/router"
	"github.com/astromesh/observer/internal/store"
	"github.com/astromesh/observer/internal/transport"
)

// main boots the observer: config → logger → DB → schema → notifier →
// router → UDP listener + HTTP bridge.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up --build`
	// is enough.
	if err := db.EnsureSchema(); err != nil {
		zlog.Fatal("failed to apply schema", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Downstream notifications go to the broker when one is configured;
	// otherwise they stay on the in-process bus (local consumers, dev).
	var sink notifier.Notifier
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notifier.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, zlog)
		if err != nil {
			zlog.Fatal("failed to connect to notification broker", zap.Error(err))
		}
		defer amqpNotifier.Close()
		sink = amqpNotifier
	} else {
		zlog.Info("AMQP_URL not set, notifications stay in-process")
		sink = notifier.NewBus(zlog)
	}

	endpoint, err := transport.Listen(cfg.UDPAddr, zlog)
	if err != nil {
		zlog.Fatal("failed to bind mesh socket", zap.Error(err))
	}
	defer endpoint.Close()

	rt := router.New(cfg.NodeID, db, sink, endpoint, m, zlog)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: bridge.NewRouter(cfg, rt, db, reg, zlog),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)

	go func() {
		errc <- endpoint.Serve(ctx, rt)
	}()
	go func() {
		zlog.Info("bridge listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		zlog.Info("shutting down")
	case err := <-errc:
		if err != nil {
			zlog.Error("server failed", zap.Error(err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("bridge shutdown failed", zap.Error(err))
	}
}
