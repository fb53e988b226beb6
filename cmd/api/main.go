// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bitrepository/reference-sub015/internal/app"
	"github.com/bitrepository/reference-sub015/internal/config"
	"github.com/bitrepository/reference-sub015/internal/handler"
	"github.com/bitrepository/reference-sub015/internal/service"
	"github.com/bitrepository/reference-sub015/pkg/logger"
	"github.com/bitrepository/reference-sub015/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return err
	}

	log.Info("starting API server",
		zap.String("client_id", cfg.ClientID),
		zap.Strings("collections", settings.CollectionIDs()),
		zap.Bool("local_bus", cfg.LocalBus),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "bitrepo-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	rt, err := app.New(ctx, cfg, settings, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Interfaces stay nil unless the NATS side is present.
	var (
		alarms service.AlarmPublisher
		reader handler.AlarmReader
		conn   handler.Connectivity
	)
	if rt.Alarms != nil {
		alarms, reader = rt.Alarms, rt.Alarms
	}
	if rt.NATS != nil {
		conn = rt.NATS
	}

	// Initialize services
	operationSvc := service.NewOperationService(rt.Client, alarms, cfg.OperationHistory, log)
	defer operationSvc.Wait()

	// Initialize handlers
	operationHandler := handler.NewOperationHandler(operationSvc, cfg.ClientID, log)
	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Health:            handler.NewHealthHandler(conn),
		Operations:        operationHandler,
		Stream:            handler.NewStreamHandler(operationHandler, operationSvc, log),
		Alarms:            handler.NewAlarmHandler(reader, log),
	}, log)

	// Create HTTP server. Requests derive from ctx, so streams end and
	// cancel their operations on shutdown.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Run(gctx)
	})
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("server stopped")
	return nil
}
