package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/HammerMeetNail/schoolhub/internal/config"
	"github.com/HammerMeetNail/schoolhub/internal/database"
	"github.com/HammerMeetNail/schoolhub/internal/events"
	"github.com/HammerMeetNail/schoolhub/internal/logging"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store/memory"
	"github.com/HammerMeetNail/schoolhub/internal/store/postgres"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{StoreDriver: driver},
		Database: config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "n", SSLMode: "disable"},
		Redis:    config.RedisConfig{Host: "cache", Port: 6379},
	}
}

func failingConnectors(t *testing.T) connectors {
	return connectors{
		postgres: func(context.Context, string) (*database.PostgresDB, error) {
			t.Fatal("postgres should not be dialled")
			return nil, nil
		},
		migrate: func(context.Context, string, *logging.Logger) error {
			t.Fatal("migrations should not run")
			return nil
		},
		redis: func(context.Context, config.RedisConfig) (*database.RedisDB, error) {
			t.Fatal("redis should not be dialled")
			return nil, nil
		},
		kafka: func(events.KafkaConfig) (*events.KafkaPublisher, error) {
			t.Fatal("kafka should not be created")
			return nil, nil
		},
	}
}

func TestNewApp_MemoryStoreServesRequests(t *testing.T) {
	logger := logging.New().SetOutput(io.Discard)
	a, err := newApp(context.Background(), testConfig(config.StoreDriverMemory), failingConnectors(t), logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if _, ok := a.Store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", a.Store)
	}

	ctx := context.Background()
	alice, err := a.Users.Register(ctx, models.CreateUserParams{DisplayName: "Alice", Email: "alice@example.com", Password: "Password1"})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, err := a.Users.Register(ctx, models.CreateUserParams{DisplayName: "Bob", Email: "bob@example.com", Password: "Password1"})
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	alert, err := a.Alerts.Create(ctx, models.CreateAlertParams{
		Type:          models.AlertFriendshipApplication,
		CreatorID:     alice.ID,
		CreatorKind:   models.KindUser,
		RecipientIDs:  []int64{bob.ID},
		RecipientKind: models.KindUser,
		ActorID:       alice.ID,
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if _, err := a.Alerts.Accept(ctx, alert.ID, bob.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	friends, err := a.Relations.ListRelationIDs(ctx, alice.Ref(), models.FieldFriends)
	if err != nil || len(friends) != 1 || friends[0] != bob.ID {
		t.Fatalf("expected alice to befriend bob, got %v (%v)", friends, err)
	}
	if _, err := a.Reconciler.RunOnce(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func TestNewApp_PostgresWiring(t *testing.T) {
	var migratedDSN string
	conn := failingConnectors(t)
	conn.postgres = func(ctx context.Context, dsn string) (*database.PostgresDB, error) {
		return &database.PostgresDB{}, nil
	}
	conn.migrate = func(ctx context.Context, dsn string, logger *logging.Logger) error {
		migratedDSN = dsn
		return nil
	}

	cfg := testConfig(config.StoreDriverPostgres)
	a, err := newApp(context.Background(), cfg, conn, logging.New().SetOutput(io.Discard))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if _, ok := a.Store.(*postgres.Store); !ok {
		t.Fatalf("expected postgres store, got %T", a.Store)
	}
	if migratedDSN != cfg.Database.DSN() {
		t.Fatalf("expected migrations against %s, got %s", cfg.Database.DSN(), migratedDSN)
	}
}

func TestNewApp_MigrationFailureAborts(t *testing.T) {
	conn := failingConnectors(t)
	conn.postgres = func(ctx context.Context, dsn string) (*database.PostgresDB, error) {
		return &database.PostgresDB{}, nil
	}
	conn.migrate = func(context.Context, string, *logging.Logger) error {
		return errors.New("dirty database")
	}

	_, err := newApp(context.Background(), testConfig(config.StoreDriverPostgres), conn, logging.New().SetOutput(io.Discard))
	if err == nil || !strings.Contains(err.Error(), "dirty database") {
		t.Fatalf("expected migration error, got %v", err)
	}
}

func TestNewApp_RedisOutageDisablesLimiter(t *testing.T) {
	var buf bytes.Buffer
	conn := failingConnectors(t)
	conn.redis = func(context.Context, config.RedisConfig) (*database.RedisDB, error) {
		return nil, errors.New("connection refused")
	}

	cfg := testConfig(config.StoreDriverMemory)
	cfg.Alerts.RateLimit = 1
	a, err := newApp(context.Background(), cfg, conn, logging.New().SetOutput(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer a.Close()

	if !strings.Contains(buf.String(), "alert rate limiting disabled") {
		t.Fatalf("expected a warning about the limiter, got %s", buf.String())
	}
}

func TestNewApp_KafkaPublisher(t *testing.T) {
	var got events.KafkaConfig
	conn := failingConnectors(t)
	conn.kafka = func(cfg events.KafkaConfig) (*events.KafkaPublisher, error) {
		got = cfg
		return events.NewKafkaPublisher(cfg)
	}

	cfg := testConfig(config.StoreDriverMemory)
	cfg.Kafka = config.KafkaConfig{Brokers: []string{"k1:9092"}, Topic: "schoolhub.events"}
	a, err := newApp(context.Background(), cfg, conn, logging.New().SetOutput(io.Discard))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Topic != "schoolhub.events" || len(got.Brokers) != 1 {
		t.Fatalf("unexpected kafka config %+v", got)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestApp_CloseRunsInReverse(t *testing.T) {
	var order []int
	a := &app{}
	for i := 0; i < 3; i++ {
		i := i
		a.closers = append(a.closers, func() error {
			order = append(order, i)
			if i == 1 {
				return errors.New("close 1")
			}
			return nil
		})
	}
	if err := a.Close(); err == nil || err.Error() != "close 1" {
		t.Fatalf("expected first close error, got %v", err)
	}
	if len(order) != 3 || order[0] != 2 || order[2] != 0 {
		t.Fatalf("unexpected close order %v", order)
	}
}
