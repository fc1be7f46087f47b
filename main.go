package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/serroba/coderoom/internal/api"
	"github.com/serroba/coderoom/internal/config"
	"github.com/serroba/coderoom/internal/discovery"
	"github.com/serroba/coderoom/internal/logging"
	"github.com/serroba/coderoom/internal/room"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coderoom hub:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(""); err != nil {
		return err
	}

	cfg, err := config.LoadHub()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Initialize the room registry
	registry := room.NewRegistry(room.Config{Logger: logger.Named("room")})

	// Initialize API server
	server := api.NewServer(api.ServerConfig{
		Registry:        registry,
		Logger:          logger.Named("api"),
		PingInterval:    cfg.PingInterval,
		PongWait:        cfg.PongWait,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})

	// Configure HTTP server with timeouts
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Advertise {
		stop, err := advertise(cfg.Addr, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting hub", zap.String("addr", cfg.Addr))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down",
		zap.Int("rooms", registry.RoomCount()),
		zap.Int("members", registry.MemberCount()),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

func advertise(addr string, logger *zap.Logger) (func(), error) {
	port, err := discovery.PortOf(addr)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", addr, err)
	}

	host, _ := os.Hostname()

	ad, err := discovery.Advertise("coderoom-"+host, port, "/ws")
	if err != nil {
		return nil, err
	}

	logger.Info("advertising over mdns", zap.String("service", discovery.Service), zap.Int("port", port))

	return ad.Shutdown, nil
}
