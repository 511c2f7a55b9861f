package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the composition root needs to wire the service.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Chain    ChainConfig
	Anchor   AnchorConfig
	Retry    RetryConfig
	Gate     GateConfig
}

// ServerConfig captures HTTP admin-surface configuration.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
}

// PostgresConfig captures the ledger database connection.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig captures the optional distributed submission gate backend.
// An empty URL means Redis is not configured and the in-memory gate is used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures the optional lifecycle event stream.
// Empty brokers disable event publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ChainConfig captures the external ledger network endpoint.
type ChainConfig struct {
	Endpoint   string
	APIKey     string
	NetworkTag string // mainnet / preprod style tag, embedded in addresses
	Timeout    time.Duration
}

// AnchorConfig captures the custodial wallet and registry identity used when
// minting.
type AnchorConfig struct {
	// RecoveryPhraseEnv names the environment variable holding the custodial
	// wallet's recovery phrase. Indirection keeps the phrase itself out of
	// config dumps.
	RecoveryPhraseEnv string
	RegistryName      string
	SerialPrefix      string
}

// RetryConfig captures the chain retry/circuit-breaker knobs.
type RetryConfig struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	FallbackThreshold int
}

// GateConfig captures the fixed-window outbound submission limit.
type GateConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:              getEnv("KARBON_ADDR", ":8080"),
			ReadHeaderTimeout: getDuration("KARBON_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getDuration("KARBON_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getDuration("KARBON_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:       getDuration("KARBON_IDLE_TIMEOUT", time.Minute),
			ShutdownTimeout:   getDuration("KARBON_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("KARBON_POSTGRES_URL"),
			MaxOpenConns: getInt("KARBON_POSTGRES_MAX_OPEN", 20),
			MaxIdleConns: getInt("KARBON_POSTGRES_MAX_IDLE", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("KARBON_REDIS_URL"),
			PoolSize:     getInt("KARBON_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("KARBON_REDIS_MIN_IDLE", 2),
			DialTimeout:  getDuration("KARBON_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("KARBON_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("KARBON_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("KARBON_KAFKA_BROKERS")),
			Topic:   getEnv("KARBON_KAFKA_TOPIC", "karbon.credit.lifecycle"),
		},
		Chain: ChainConfig{
			Endpoint:   os.Getenv("KARBON_CHAIN_ENDPOINT"),
			APIKey:     os.Getenv("KARBON_CHAIN_API_KEY"),
			NetworkTag: getEnv("KARBON_CHAIN_NETWORK", "mainnet"),
			Timeout:    getDuration("KARBON_CHAIN_TIMEOUT", 30*time.Second),
		},
		Anchor: AnchorConfig{
			RecoveryPhraseEnv: getEnv("KARBON_WALLET_PHRASE_ENV", "KARBON_WALLET_PHRASE"),
			RegistryName:      getEnv("KARBON_REGISTRY_NAME", "Karbon Registry"),
			SerialPrefix:      getEnv("KARBON_SERIAL_PREFIX", "KRB"),
		},
		Retry: RetryConfig{
			MaxAttempts:       getInt("KARBON_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:         getDuration("KARBON_RETRY_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:          getDuration("KARBON_RETRY_MAX_DELAY", 10*time.Second),
			FallbackThreshold: getInt("KARBON_RETRY_FALLBACK_THRESHOLD", 3),
		},
		Gate: GateConfig{
			RequestsPerWindow: getInt("KARBON_GATE_REQUESTS", 10),
			Window:            getDuration("KARBON_GATE_WINDOW", time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
