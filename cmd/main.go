// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the mrest listener together with its metrics and health
// servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/absmach/mrest"
	"github.com/absmach/mrest/examples/simple"
	"github.com/absmach/mrest/pkg/auth"
	"github.com/absmach/mrest/pkg/breaker"
	"github.com/absmach/mrest/pkg/handler"
	"github.com/absmach/mrest/pkg/health"
	"github.com/absmach/mrest/pkg/metrics"
	"github.com/absmach/mrest/pkg/ratelimit"
	"github.com/absmach/mrest/pkg/server/tcp"
	"github.com/absmach/mrest/pkg/sink/mqtt"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	healthCacheTTL      = 10 * time.Second
	maxGoroutines       = 50000
	httpShutdownTimeout = 5 * time.Second
)

func main() {
	// .env is optional; report its absence once the logger exists.
	dotenvErr := godotenv.Load()

	cfg, err := mrest.NewConfig(env.Options{Prefix: mrest.EnvPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if dotenvErr != nil {
		logger.Debug("no .env file found, using environment variables")
	}

	if err := run(cfg, metrics.New("mrest", nil), logger); err != nil {
		logger.Error(fmt.Sprintf("mrest service terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("mrest service stopped")
}

// run serves until a shutdown signal or the first component failure. Every
// resource it acquires is released before it returns.
func run(cfg mrest.Config, m *metrics.Metrics, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	checker := health.NewChecker(healthCacheTTL)
	registerRuntimeChecks(checker, m)

	sink, closeSink, err := newSink(ctx, cfg, m, checker, logger)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	defer closeSink()

	var perClient *ratelimit.Limiter
	if cfg.RateLimitCapacity > 0 {
		perClient = ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefill, 0)
		defer perClient.Close()
	}
	var global *ratelimit.TokenBucket
	if cfg.GlobalRateCapacity > 0 {
		global = ratelimit.NewTokenBucket(cfg.GlobalRateCapacity, cfg.GlobalRateRefill)
	}

	h := &InstrumentedHandler{
		handler: &RateLimitedHandler{
			handler:          sink,
			perClientLimiter: perClient,
			globalLimiter:    global,
			metrics:          m,
			logger:           logger,
		},
		metrics: m,
		logger:  logger,
	}

	gate := auth.New(auth.Credentials{Username: cfg.Username, Password: cfg.Password})
	srv, err := tcp.New(tcp.Config{
		Address:         cfg.Address(),
		ReadBufferSize:  cfg.ReadBufferSize,
		MaxRequestSize:  cfg.MaxRequestSize,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		HandlerTimeout:  cfg.HandlerTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Metrics:         m,
	}, gate, h)
	if err != nil {
		return fmt.Errorf("failed to create TCP server: %w", err)
	}

	g.Go(func() error {
		return srv.Listen(ctx)
	})

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error {
			return serveHTTP(ctx, "metrics", cfg.MetricsPort, mux, logger)
		})
	}

	if cfg.HealthPort > 0 {
		g.Go(func() error {
			return serveHTTP(ctx, "health", cfg.HealthPort, health.NewMux(checker), logger)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

// newSink builds the handler that receives dispatched bodies, along with a
// function releasing its resources.
func newSink(ctx context.Context, cfg mrest.Config, m *metrics.Metrics, checker *health.Checker, logger *slog.Logger) (handler.Handler, func(), error) {
	switch cfg.Sink {
	case mrest.SinkMQTT:
		cb := breaker.New(breaker.Config{
			MaxFailures:  cfg.MQTT.BreakerMaxFailures,
			ResetTimeout: cfg.MQTT.BreakerResetTimeout,
			OnStateChange: func(from, to breaker.State) {
				logger.Warn("Sink circuit breaker state changed",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
				m.ObserveBreakerState(mrest.SinkMQTT, int(to))
			},
		})
		pub, err := mqtt.New(mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Topic:          cfg.MQTT.Topic,
			QoS:            cfg.MQTT.QoS,
			Retained:       cfg.MQTT.Retained,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			PublishTimeout: cfg.MQTT.PublishTimeout,
			Breaker:        cb,
			Logger:         logger,
			Metrics:        m,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := pub.Connect(ctx); err != nil {
			return nil, nil, err
		}
		checker.RegisterCritical("mqtt", func(ctx context.Context) error {
			if !pub.IsConnected() {
				return mqtt.ErrNotConnected
			}
			return nil
		})
		logger.Info("Forwarding bodies to MQTT",
			slog.String("broker", cfg.MQTT.Broker),
			slog.String("topic", cfg.MQTT.Topic))
		return pub, pub.Close, nil
	default:
		return simple.New(logger), func() {}, nil
	}
}

func registerRuntimeChecks(checker *health.Checker, m *metrics.Metrics) {
	checker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		if count > maxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, maxGoroutines)
		}
		return nil
	})

	checker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.ObserveRuntime(runtime.NumGoroutine(), stats.HeapAlloc, stats.Sys)
		return nil
	})
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// serveHTTP runs an auxiliary HTTP server until ctx is cancelled.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler, logger *slog.Logger) error {
	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", slog.String("server", name), slog.String("error", err.Error()))
		}
	}()

	logger.Info("Starting "+name+" server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
