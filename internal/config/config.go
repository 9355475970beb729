package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/HammerMeetNail/schoolhub/internal/logging"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Alerts     AlertConfig
	Reconciler ReconcilerConfig
}

type ServerConfig struct {
	Environment string // "development", "production", "test"
	Debug       bool
	LogLevel    logging.Level
	StoreDriver string // "postgres" or "memory"
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// KafkaConfig is disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AlertConfig struct {
	// RateLimit is the number of alerts one creator may send per
	// RateWindow. Zero disables throttling.
	RateLimit  int
	RateWindow time.Duration
}

type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
}

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

func defaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("server_debug", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("store_driver", StoreDriverPostgres)

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_user", "schoolhub")
	v.SetDefault("db_password", "schoolhub")
	v.SetDefault("db_name", "schoolhub")
	v.SetDefault("db_sslmode", "disable")

	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("kafka_brokers", "")
	v.SetDefault("kafka_topic", "schoolhub.events")

	v.SetDefault("alert_rate_limit", 30)
	v.SetDefault("alert_rate_window", time.Hour)

	v.SetDefault("reconcile_interval", 10*time.Minute)
	v.SetDefault("reconcile_batch", 500)
}

// Load reads the configuration from the environment. When CONFIG_FILE is
// set, that file (any format viper understands, including .env) is read
// first and the environment still takes precedence over it.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	level, err := logging.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Environment: v.GetString("app_env"),
			Debug:       getBool(v, "server_debug"),
			LogLevel:    level,
			StoreDriver: strings.ToLower(v.GetString("store_driver")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("db_host"),
			Port:     getInt(v, "db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			DBName:   v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis_host"),
			Port:     getInt(v, "redis_port"),
			Password: v.GetString("redis_password"),
			DB:       getInt(v, "redis_db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka_brokers")),
			Topic:   v.GetString("kafka_topic"),
		},
		Alerts: AlertConfig{
			RateLimit:  getInt(v, "alert_rate_limit"),
			RateWindow: getDuration(v, "alert_rate_window"),
		},
		Reconciler: ReconcilerConfig{
			Interval:  getDuration(v, "reconcile_interval"),
			BatchSize: getInt(v, "reconcile_batch"),
		},
	}

	switch cfg.Server.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Server.StoreDriver)
	}
	if cfg.Alerts.RateLimit > 0 && cfg.Alerts.RateWindow <= 0 {
		return nil, fmt.Errorf("ALERT_RATE_WINDOW must be positive when ALERT_RATE_LIMIT is set")
	}
	return cfg, nil
}

// The get helpers fall back to the registered default when the configured
// value does not parse.

func getInt(v *viper.Viper, key string) int {
	if n, err := cast.ToIntE(v.Get(key)); err == nil {
		return n
	}
	return cast.ToInt(defaultOf(key))
}

func getBool(v *viper.Viper, key string) bool {
	if b, err := cast.ToBoolE(v.Get(key)); err == nil {
		return b
	}
	return cast.ToBool(defaultOf(key))
}

func getDuration(v *viper.Viper, key string) time.Duration {
	if d, err := cast.ToDurationE(v.Get(key)); err == nil && d > 0 {
		return d
	}
	return cast.ToDuration(defaultOf(key))
}

func defaultOf(key string) interface{} {
	d := viper.New()
	defaults(d)
	return d.Get(key)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
