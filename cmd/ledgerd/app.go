package main

import (
	"context"
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/config"
	"github.com/HammerMeetNail/schoolhub/internal/database"
	"github.com/HammerMeetNail/schoolhub/internal/events"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/ratelimit"
	"github.com/HammerMeetNail/schoolhub/internal/services"
	"github.com/HammerMeetNail/schoolhub/internal/store"
	"github.com/HammerMeetNail/schoolhub/internal/store/memory"
	"github.com/HammerMeetNail/schoolhub/internal/store/postgres"
	"github.com/HammerMeetNail/schoolhub/migrations"
)

// app holds the wired services. Collaborators embedding the ledger in a
// larger process build one with newApp and call its services directly.
type app struct {
	Store       store.Store
	Relations   *services.RelationService
	Resolver    *services.Resolver
	Alerts      *services.AlertService
	Chats       *services.ChatService
	Users       *services.UserService
	Communities *services.CommunityService
	Reconciler  *services.Reconciler

	closers []func() error
}

// connectors are swapped out in tests.
type connectors struct {
	postgres func(ctx context.Context, dsn string) (*database.PostgresDB, error)
	migrate  func(ctx context.Context, dsn string, logger *logging.Logger) error
	redis    func(ctx context.Context, cfg config.RedisConfig) (*database.RedisDB, error)
	kafka    func(cfg events.KafkaConfig) (*events.KafkaPublisher, error)
}

var defaultConnectors = connectors{
	postgres: func(ctx context.Context, dsn string) (*database.PostgresDB, error) {
		return database.OpenPostgres(ctx, dsn, database.DefaultPoolOptions())
	},
	migrate: func(ctx context.Context, dsn string, logger *logging.Logger) error {
		m, err := database.NewMigrator(dsn, migrations.FS, logger)
		if err != nil {
			return err
		}
		defer m.Close()
		return m.Up()
	},
	redis: database.OpenRedis,
	kafka: events.NewKafkaPublisher,
}

func newApp(ctx context.Context, cfg *config.Config, conn connectors, logger *logging.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := a.openStore(ctx, cfg, conn, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st

	var limiter services.Limiter
	if cfg.Alerts.RateLimit > 0 {
		limiter = a.openLimiter(ctx, cfg, conn, logger)
	}

	var publisher events.Publisher = events.NewLogPublisher(logger.Named("events"))
	if cfg.Kafka.Enabled() {
		kp, err := conn.kafka(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		a.closers = append(a.closers, kp.Close)
		publisher = kp
		logger.Info("publishing events to kafka", logging.Fields{"brokers": cfg.Kafka.Brokers, "topic": cfg.Kafka.Topic})
	}

	a.Relations = services.NewRelationService(st)
	a.Resolver = services.NewResolver(st)
	a.Alerts = services.NewAlertService(st, limiter, publisher, logger.Named("alerts"))
	a.Chats = services.NewChatService(st, publisher, logger.Named("chats"))
	a.Users = services.NewUserService(st, logger.Named("users"))
	a.Communities = services.NewCommunityService(st, logger.Named("communities"))
	a.Reconciler = services.NewReconciler(st, cfg.Reconciler.BatchSize, cfg.Reconciler.Interval, logger.Named("reconciler"))

	ok = true
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config, conn connectors, logger *logging.Logger) (store.Store, error) {
	if cfg.Server.StoreDriver == config.StoreDriverMemory {
		logger.Warn("using the in-memory store; data is lost on exit")
		return memory.New(), nil
	}

	dsn := cfg.Database.DSN()
	logger.Info("connecting to postgres", logging.Fields{"host": cfg.Database.Host, "port": cfg.Database.Port})
	db, err := conn.postgres(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	if err := conn.migrate(ctx, dsn, logger.Named("migrate")); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}
	return postgres.New(postgres.NewPoolAdapter(db.Pool)), nil
}

// openLimiter returns nil when redis is unreachable: alert creation is
// then unthrottled, the same as when the limiter fails mid-flight.
func (a *app) openLimiter(ctx context.Context, cfg *config.Config, conn connectors, logger *logging.Logger) services.Limiter {
	rdb, err := conn.redis(ctx, cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, alert rate limiting disabled")
		return nil
	}
	a.closers = append(a.closers, rdb.Close)
	return ratelimit.New(rdb.Client, cfg.Alerts.RateLimit, cfg.Alerts.RateWindow, "schoolhub:alerts")
}

// Close releases connections in reverse order of opening.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
