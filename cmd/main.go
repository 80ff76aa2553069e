package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kskmon/kskmon/internal/app"
	"github.com/kskmon/kskmon/internal/config"
)

// Command kskmon polls the KSK Kaluga personal-account service and keeps
// a cached snapshot of accounts, balances, meter readings and payments.
//
// The service supports:
//   - Authentication against the provider's unstable sign-in endpoint
//   - Scheduled refreshes with retries and request coalescing
//   - Meter reading submission and payment link generation
//   - Prometheus metrics and a JSON status endpoint
//
// Usage:
//
//	kskmon [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)

	logger.WithFields(logrus.Fields{
		"base_url": cfg.API.BaseURL,
		"interval": cfg.Update.Interval,
	}).Info("Starting kskmon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application := app.New(logger)
	if err := application.Setup(ctx, cfg); err != nil {
		logger.Fatalf("Failed to set up configuration entry: %v", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: application.Handler(),
	}

	errChan := make(chan error, 1)

	go func() {
		logger.WithField("addr", srv.Addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	go handleShutdown(ctx, srv, application, logger, errChan)

	if err := <-errChan; err != nil {
		logger.Fatalf("Service error: %v", err)
	}
	logger.Info("Shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

// Handle graceful shutdown
func handleShutdown(ctx context.Context, srv *http.Server, application *app.App, logger *logrus.Logger, errChan chan<- error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		logger.Println("Context canceled, initiating shutdown")
	case sig := <-sigChan:
		logger.Printf("Received signal %v, initiating shutdown", sig)
	}

	logger.Println("Gracefully stopping server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown was not clean")
	}
	application.Close()
	logger.Println("Server stopped")

	errChan <- nil
}
