package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Remote  RemoteConfig
	Sync    SyncConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Observ  ObservabilityConfig
	Tenancy TenancyConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type StoreConfig struct {
	Driver string
	DSN    string
}

type RemoteConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type SyncConfig struct {
	ProbeInterval  time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	DrainLockTTL time.Duration
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicSyncEvents string
}

type ObservabilityConfig struct {
	TracingEnabled bool
	JaegerEndpoint string
}

// TenancyConfig names this terminal in published events
type TenancyConfig struct {
	TerminalID string
}

func Load() *Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", ""),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", "sqlite"),
			DSN:    getEnv("STORE_DSN", "inventory-cache.db"),
		},
		Remote: RemoteConfig{
			BaseURL: getEnv("REMOTE_BASE_URL", "http://localhost:9000"),
			Token:   getEnv("REMOTE_TOKEN", ""),
			Timeout: getSeconds("REMOTE_TIMEOUT_SECONDS", 10),
		},
		Sync: SyncConfig{
			ProbeInterval:  getSeconds("PROBE_INTERVAL_SECONDS", 15),
			BackoffInitial: getSeconds("SYNC_BACKOFF_INITIAL_SECONDS", 5),
			BackoffMax:     getSeconds("SYNC_BACKOFF_MAX_SECONDS", 300),
		},
		Redis: RedisConfig{
			Enabled:      getBool("REDIS_ENABLED", false),
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           redisDB,
			DrainLockTTL: getSeconds("DRAIN_LOCK_TTL_SECONDS", 120),
		},
		Kafka: KafkaConfig{
			Enabled:         getBool("KAFKA_ENABLED", false),
			Brokers:         strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicSyncEvents: getEnv("KAFKA_TOPIC_SYNC_EVENTS", "inventory-sync-events"),
		},
		Observ: ObservabilityConfig{
			TracingEnabled: getBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		},
		Tenancy: TenancyConfig{
			TerminalID: getEnv("TERMINAL_ID", hostname()),
		},
	}

	return cfg
}

// Log writes the effective settings, without secrets
func (c *Config) Log(logger *zap.Logger) {
	logger.Info("Config loaded",
		zap.String("env", c.Server.Env),
		zap.String("port", c.Server.Port),
		zap.String("store_driver", c.Store.Driver),
		zap.String("remote_base_url", c.Remote.BaseURL),
		zap.Duration("remote_timeout", c.Remote.Timeout),
		zap.Bool("redis_enabled", c.Redis.Enabled),
		zap.Bool("kafka_enabled", c.Kafka.Enabled),
		zap.Bool("tracing_enabled", c.Observ.TracingEnabled))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(defaultVal)))
	if err != nil {
		return defaultVal
	}
	return b
}

func getSeconds(key string, defaultVal int) time.Duration {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultVal)))
	if err != nil || n <= 0 {
		n = defaultVal
	}
	return time.Duration(n) * time.Second
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "terminal"
	}
	return name
}
