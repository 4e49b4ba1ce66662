package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fluent-cache/internal/api"
	"fluent-cache/internal/catalog"
	"fluent-cache/internal/config"
	"fluent-cache/internal/dispatch"
	"fluent-cache/internal/logs"
	"fluent-cache/internal/metrics"
	"fluent-cache/internal/pipeline"
	"fluent-cache/internal/ttl"
	"fluent-cache/internal/worker"
)

// Simulated backend behaviour.
const (
	backendLatency     = 150 * time.Millisecond
	backendFailureRate = 0.2
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	// Root context, canceled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logger
	zl, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	sink := logs.NewZapSink(zl)
	defer func() { _ = sink.Sync() }()
	logger := logs.NewLogger(cfg.Log.BufferSize, cfg.Log.Level, logs.WithSink(sink))

	// Metrics
	metricsRegistry := metrics.NewRegistry()

	// Dispatcher owns continuations; the pool runs producers
	dispatcher := dispatch.New(
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithMetrics(metricsRegistry),
		dispatch.WithTick(cfg.Dispatcher.Tick),
	)

	pool := worker.New(
		cfg.Worker.MaxConcurrent,
		worker.WithLogger(logger.Named("worker")),
		worker.WithMetrics(metricsRegistry),
	)
	defer pool.Close()

	rt := pipeline.NewRuntime(dispatcher, pool,
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metricsRegistry),
	)

	// Catalog
	backend := catalog.NewSimulated(backendLatency, backendFailureRate, uint64(time.Now().UnixNano()), seedProducts()...)
	svc := catalog.NewService(ctx, rt, backend, catalog.Options{
		Retry:     cfg.Retry.Policy(),
		QueryTTL:  cfg.Cache.QueryTTL,
		EntityTTL: cfg.Cache.EntityTTL,
	})

	// TTL sweeper
	sweeper := ttl.NewSweeper(
		cfg.Cache.SweepInterval,
		dispatcher,
		logger.Named("ttl"),
		metricsRegistry,
		svc.SweepTargets()...,
	)
	go sweeper.Start(ctx)

	// API
	handler := api.NewHandler(svc, metricsRegistry, logger)
	mux := http.NewServeMux()
	httpHandler := api.RegisterRoutes(mux, handler)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		logger.Errorf("listen %s: %v", cfg.HTTP.Addr, err)
		return
	}
	logger.Infof("server started on %s", ln.Addr())

	if err := serve(ctx, server, ln, dispatcher, logger); err != nil {
		logger.Errorf("server stopped: %v", err)
		return
	}
	logger.Info("server stopped")
}

// serve runs the dispatcher and the HTTP server until ctx is done. The
// server is shut down first and the dispatcher stopped only afterwards, so
// requests waiting on dispatched callbacks can finish.
func serve(ctx context.Context, server *http.Server, ln net.Listener, dispatcher *dispatch.Dispatcher, logger *logs.Logger) error {
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
		<-serveErr
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	stopDispatch()
	<-dispatchDone
	return err
}

func seedProducts() []catalog.Product {
	return []catalog.Product{
		{ID: "p1", Name: "Kettle", Category: "kitchen", Price: 2999},
		{ID: "p2", Name: "Toaster", Category: "kitchen", Price: 4999},
		{ID: "p3", Name: "Chef's knife", Category: "kitchen", Price: 8999},
		{ID: "p4", Name: "Floor lamp", Category: "living", Price: 12999},
		{ID: "p5", Name: "Rug", Category: "living", Price: 19999},
		{ID: "p6", Name: "Desk", Category: "office", Price: 34999},
	}
}
