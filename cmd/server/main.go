package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vanshika/flashback/internal/config"
	"github.com/vanshika/flashback/internal/events"
	"github.com/vanshika/flashback/internal/logging"
	"github.com/vanshika/flashback/internal/payment"
	"github.com/vanshika/flashback/internal/server"
	"github.com/vanshika/flashback/internal/service"
	"github.com/vanshika/flashback/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	gin.SetMode(cfg.HTTP.GinMode)

	st, err := store.Open(ctx, store.Options{
		Driver:         cfg.Store.Driver,
		URI:            cfg.Store.URI,
		Database:       cfg.Store.Database,
		Username:       cfg.Store.Username,
		Password:       cfg.Store.Password,
		MaxConnections: cfg.Store.MaxConnections,
		ConnectTimeout: cfg.Store.ConnectTimeout,
	})
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("closing store failed")
		}
	}()
	logger.Info().Str("driver", cfg.Store.Driver).Str("database", cfg.Store.Database).Msg("connected to store")

	publisher := buildPublisher(logger, cfg.Broker)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing event publisher failed")
		}
	}()

	mode, err := service.ParseSaleMode(cfg.Sale.Mode)
	if err != nil {
		logger.Error().Err(err).Msg("invalid sale mode")
		os.Exit(1)
	}

	resources := service.NewResourceService(st)
	sales := service.NewSaleService(st, publisher, mode, logger)
	apiHandlers := server.NewAPIHandlers(logger, resources, sales, payment.StubGateway{})

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:         server.StoreHealthService{Store: st},
		API:            apiHandlers,
		AllowedOrigins: parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// buildPublisher connects to RabbitMQ when configured. Sales keep working
// without a broker, so connection failures only disable events.
func buildPublisher(logger zerolog.Logger, cfg config.BrokerConfig) events.Publisher {
	if cfg.RabbitMQURL == "" {
		return events.NopPublisher{}
	}
	pub, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
		URL:        cfg.RabbitMQURL,
		Exchange:   cfg.Exchange,
		RoutingKey: cfg.RoutingKey,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, sale events disabled")
		return events.NopPublisher{}
	}
	return pub
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
