package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
	StoreMongo    StoreDriver = "mongo"
)

type Config struct {
	Service  string        `yaml:"service"`
	Env      string        `yaml:"env"`
	LogLevel string        `yaml:"log_level"`
	Store    StoreConfig   `yaml:"store"`
	Redis    RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig   `yaml:"kafka"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

type StoreConfig struct {
	Driver   StoreDriver    `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

type SQLiteConfig struct {
	// Path of the database file; also holds the product catalog for the mongo and memory drivers.
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// RedisConfig leaves Addr empty to run without the read cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// KafkaConfig leaves Brokers empty to disable both the publisher and the consumer.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ExpiryTopic   string   `yaml:"expiry_topic"`
	CheckoutTopic string   `yaml:"checkout_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Timeout             time.Duration `yaml:"timeout"`
	Interval            time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		Service:  "cart-service",
		Env:      "development",
		LogLevel: "info",
		Store: StoreConfig{
			Driver: StoreSQLite,
			SQLite: SQLiteConfig{Path: "cart.db"},
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				User:    "cart",
				DBName:  "cart",
				SSLMode: "disable",
			},
			Mongo: MongoConfig{
				URI:         "mongodb://localhost:27017",
				Database:    "cartdb",
				MaxAttempts: 5,
			},
		},
		Redis: RedisConfig{TTL: 15 * time.Minute},
		Kafka: KafkaConfig{
			ExpiryTopic:   "cart-expiry-candidates",
			CheckoutTopic: "checkout-outbox",
			ConsumerGroup: "cart-service-consumer",
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			Timeout:             10 * time.Second,
			Interval:            time.Minute,
		},
	}
}

// Load reads the YAML file at path over the defaults and then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() (err error) {
	c.Service = getEnv("SERVICE_NAME", c.Service)
	c.Env = getEnv("APP_ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Driver = StoreDriver(getEnv("STORE_DRIVER", string(c.Store.Driver)))
	c.Store.SQLite.Path = getEnv("SQLITE_PATH", c.Store.SQLite.Path)

	c.Store.Postgres.Host = getEnv("POSTGRES_HOST", c.Store.Postgres.Host)
	if c.Store.Postgres.Port, err = getEnvInt("POSTGRES_PORT", c.Store.Postgres.Port); err != nil {
		return err
	}
	c.Store.Postgres.User = getEnv("POSTGRES_USER", c.Store.Postgres.User)
	c.Store.Postgres.Password = getEnv("POSTGRES_PASSWORD", c.Store.Postgres.Password)
	c.Store.Postgres.DBName = getEnv("POSTGRES_DB", c.Store.Postgres.DBName)
	c.Store.Postgres.SSLMode = getEnv("POSTGRES_SSLMODE", c.Store.Postgres.SSLMode)

	c.Store.Mongo.URI = getEnv("MONGO_URI", c.Store.Mongo.URI)
	c.Store.Mongo.Database = getEnv("MONGO_DB_NAME", c.Store.Mongo.Database)
	if c.Store.Mongo.MaxAttempts, err = getEnvInt("MONGO_MAX_ATTEMPTS", c.Store.Mongo.MaxAttempts); err != nil {
		return err
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Redis.TTL, err = getEnvDuration("REDIS_TTL", c.Redis.TTL); err != nil {
		return err
	}

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = splitCSV(brokers)
	}
	c.Kafka.ExpiryTopic = getEnv("KAFKA_EXPIRY_TOPIC", c.Kafka.ExpiryTopic)
	c.Kafka.CheckoutTopic = getEnv("KAFKA_CHECKOUT_TOPIC", c.Kafka.CheckoutTopic)
	c.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", c.Kafka.ConsumerGroup)

	failures, err := getEnvInt("BREAKER_CONSECUTIVE_FAILURES", int(c.Breaker.ConsecutiveFailures))
	if err != nil {
		return err
	}
	c.Breaker.ConsecutiveFailures = uint32(failures)
	if c.Breaker.Timeout, err = getEnvDuration("BREAKER_TIMEOUT", c.Breaker.Timeout); err != nil {
		return err
	}
	if c.Breaker.Interval, err = getEnvDuration("BREAKER_INTERVAL", c.Breaker.Interval); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StorePostgres, StoreMongo:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.SQLite.Path == "" && c.Store.Driver != StorePostgres {
		return errors.New("sqlite path is required for the product catalog")
	}
	if c.Redis.TTL <= 0 {
		return fmt.Errorf("redis ttl must be positive, got %s", c.Redis.TTL)
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.ExpiryTopic == "" || c.Kafka.CheckoutTopic == "") {
		return errors.New("kafka topics must be set when brokers are configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	i, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := cast.ToDurationE(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
