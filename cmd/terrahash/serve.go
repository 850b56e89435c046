package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	limiter "github.com/ulule/limiter/v3"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/terrahash/landregistry/api"
	"github.com/terrahash/landregistry/internal/cache"
	"github.com/terrahash/landregistry/internal/database"
	"github.com/terrahash/landregistry/internal/events"
	"github.com/terrahash/landregistry/internal/identities"
	"github.com/terrahash/landregistry/internal/ledger"
	"github.com/terrahash/landregistry/internal/listings"
	"github.com/terrahash/landregistry/internal/objections"
	"github.com/terrahash/landregistry/internal/parcels"
	"github.com/terrahash/landregistry/internal/payments"
	"github.com/terrahash/landregistry/internal/storage"
	"github.com/terrahash/landregistry/internal/telemetry"
	"github.com/terrahash/landregistry/internal/transactions"
	"github.com/terrahash/landregistry/pkg/validation"
)

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	cfg, log := e.cfg, e.logger

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewPostgresDB(cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return err
		}
	}
	go database.CollectPoolStats(ctx, db, "postgres", 30*time.Second, log)

	// Optional adapters stay nil interfaces when unconfigured
	var (
		sessionStore cache.SessionStore
		listCache    cache.ListCache
		limiterStore limiter.Store
	)
	if cfg.Redis.Addr != "" {
		redis := cache.NewRedis(cfg.Redis)
		defer redis.Close()
		if err := redis.Ping(ctx); err != nil {
			log.Warn("Redis unreachable, sessions and list cache will error until it recovers", zap.Error(err))
		}
		sessionStore, listCache = redis, redis
		limiterStore, err = sredis.NewStoreWithOptions(redis.Client(), limiter.StoreOptions{
			Prefix:          "terrahash:ratelimit",
			CleanUpInterval: limiter.DefaultCleanUpInterval,
		})
		if err != nil {
			return err
		}
	}

	hub := events.NewHub(cfg.Server.AllowedOrigins, log)
	go hub.Run(ctx)
	fanout := events.NewFanout().Add("websocket", hub)
	if len(cfg.Kafka.Brokers) > 0 {
		kafka := events.NewKafka(events.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			Async:       cfg.Kafka.Async,
			MaxAttempts: cfg.Kafka.MaxAttempts,
		}, log)
		defer kafka.Close()
		fanout.Add("kafka", kafka)
	}

	var registry ledger.Ledger
	if cfg.Hedera.Enabled() {
		h, err := ledger.NewHedera(cfg.Hedera, log)
		if err != nil {
			return err
		}
		defer h.Close()
		registry = h
	}

	var verifier payments.Verifier
	if cfg.EVM.RPCURL != "" {
		v, err := payments.NewEVMVerifier(cfg.EVM.RPCURL, cfg.EVM.Confirmations, log)
		if err != nil {
			return err
		}
		verifier = v
	}

	var pinner storage.Pinner
	if cfg.Pinata.JWT != "" {
		pinner = storage.NewPinata(cfg.Pinata, log)
	}

	var uploader storage.Uploader
	if cfg.Cloudinary.CloudName != "" {
		c, err := storage.NewCloudinary(cfg.Cloudinary, log)
		if err != nil {
			return err
		}
		uploader = c
	}

	v := validation.NewValidator(log)
	sessions := identities.NewSessions(cfg.Session, sessionStore)
	srv, err := api.NewServer(cfg.Server, cfg.Tracing.ServiceName, api.Services{
		DB:         db,
		Identities: identities.NewService(db, sessions, cfg.Root, log),
		Parcels: parcels.NewService(db, parcels.Deps{
			Ledger: registry,
			Pinner: pinner,
			Cache:  listCache,
			Events: fanout,
		}, log),
		Listings: listings.NewService(db, listings.Deps{
			Ledger: registry,
			Cache:  listCache,
			Events: fanout,
		}, v, log),
		Transactions: transactions.NewService(db, transactions.Deps{
			Ledger:   registry,
			Verifier: verifier,
			Cache:    listCache,
			Events:   fanout,
		}, log),
		Objections: objections.NewService(db, objections.Deps{
			Ledger: registry,
			Events: fanout,
		}, v, log),
		Uploader:      uploader,
		Hub:           hub,
		Validator:     v,
		LimiterStore:  limiterStore,
		LedgerEnabled: registry != nil,
	}, log)
	if err != nil {
		return err
	}

	httpServer := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting API server", zap.String("addr", httpServer.Addr))
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

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("Server exited properly")
	return nil
}
