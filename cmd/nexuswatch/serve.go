package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"nexuswatch/internal/auth"
	"nexuswatch/internal/config"
	"nexuswatch/internal/db"
	"nexuswatch/internal/ethsig"
	"nexuswatch/internal/events"
	"nexuswatch/internal/httpserver"
	"nexuswatch/internal/incidents"
	"nexuswatch/internal/logging"
	"nexuswatch/internal/metrics"
	"nexuswatch/internal/notify"
	"nexuswatch/internal/storage/badgerdb"
	"nexuswatch/internal/storage/pebbledb"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, chat feed and notification workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", ":8080", "listen address")
	serveCmd.Flags().String("store-backend", config.BackendMemory, "incident store: memory, postgres, badger or pebble")
	serveCmd.Flags().String("log-level", "info", "log level")
	_ = conf.BindPFlag("http_addr", serveCmd.Flags().Lookup("http-addr"))
	_ = conf.BindPFlag("store.backend", serveCmd.Flags().Lookup("store-backend"))
	_ = conf.BindPFlag("log_level", serveCmd.Flags().Lookup("log-level"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(conf, flagConfig)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (incidents.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendPostgres:
		conn, err := db.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open db: %w", err)
		}
		if err := db.RunMigrations(ctx, conn, cfg.SchemaDir); err != nil {
			_ = conn.Close()
			return nil, noop, fmt.Errorf("run migrations: %w", err)
		}
		return incidents.NewSQLStore(conn), conn.Close, nil
	case config.BackendBadger:
		s, err := badgerdb.Open(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open badger: %w", err)
		}
		return s, s.Close, nil
	case config.BackendPebble:
		s, err := pebbledb.Open(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open pebble: %w", err)
		}
		return s, s.Close, nil
	default:
		return incidents.NewMemoryStore(), noop, nil
	}
}

func openOperators(ctx context.Context, cfg config.AuthConfig, logger zerolog.Logger) (*auth.Service, error) {
	store := auth.NewStore()
	n, err := store.SeedFromFile(ctx, cfg.OperatorsPath)
	if err != nil {
		return nil, fmt.Errorf("seed operators: %w", err)
	}
	logger.Info().Int("operators", n).Str("path", cfg.OperatorsPath).Msg("operator accounts loaded")
	return auth.NewService(store, cfg.JWTSecret, cfg.TokenTTL), nil
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) (err error) {
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	logger.Info().Str("backend", cfg.Store.Backend).Msg("incident store ready")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	hub := notify.NewHub(logger, cfg.CORS.AllowedOrigins, cfg.Notify.ChatHistory)
	dispatcher := events.NewDispatcher(logger, cfg.Notify.Workers, cfg.Notify.DeliveryTimeout, collector)

	defer func() {
		var result *multierror.Error
		dispatcher.Stop()
		hub.Close()
		if cerr := closeStore(); cerr != nil {
			result = multierror.Append(result, fmt.Errorf("close store: %w", cerr))
		}
		if cerr := result.ErrorOrNil(); cerr != nil {
			logger.Error().Err(cerr).Msg("shutdown")
			if err == nil {
				err = cerr
			}
		}
	}()

	engine, err := incidents.NewEngine(store, ethsig.NewVerifier(), dispatcher, cfg.Watch, logger, collector)
	if err != nil {
		return err
	}

	dispatcher.Subscribe("chat", notify.NewChatSink(hub, cfg.Watch.Quorum))
	if cfg.Notify.AnnounceURL != "" {
		announcer := notify.NewWebhookAnnouncer(notify.WebhookConfig{
			URL:     cfg.Notify.AnnounceURL,
			Token:   cfg.Notify.AnnounceToken,
			Timeout: cfg.Notify.AnnounceTimeout,
			Retries: cfg.Notify.AnnounceRetries,
		}, logger)
		dispatcher.Subscribe("announce", notify.NewAnnounceSink(engine, notify.NewTemplateSummarizer(), announcer, logger))
	} else {
		logger.Info().Msg("external announcements disabled")
	}

	var authSvc *auth.Service
	if cfg.OperatorAPIEnabled() {
		if authSvc, err = openOperators(ctx, cfg.Auth, logger); err != nil {
			return err
		}
	}

	handler := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:         logger,
		Engine:         engine,
		Chat:           hub,
		Auth:           authSvc,
		Metrics:        collector,
		Gatherer:       registry,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	server := httpserver.New(cfg.HTTPAddr, handler, logger)

	logger.Info().
		Int("quorum", cfg.Watch.Quorum).
		Bool("allow_self_verification", cfg.Watch.AllowSelfVerification).
		Msg("community watch starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
