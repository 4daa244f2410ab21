package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketstream/pkg/storage/redis"

	"github.com/spf13/viper"
)

type Config struct {
	Binance  BinanceConfig  `mapstructure:"binance"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Cache    CacheConfig    `mapstructure:"cache"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Symbols  SymbolsConfig  `mapstructure:"symbols"`
	Log      LogConfig      `mapstructure:"log"`
}

type BinanceConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

type StreamConfig struct {
	ReconnectDelay         time.Duration `mapstructure:"reconnect_delay"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	SubscriberBuffer       int           `mapstructure:"subscriber_buffer"`
	IdleGrace              time.Duration `mapstructure:"idle_grace"`
	// Autostart lists channels ("BTCUSDT@1m") connected at boot.
	Autostart []string `mapstructure:"autostart"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // "redis" or "memory"
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   redis.Config  `mapstructure:"redis"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SymbolsConfig struct {
	QuoteAssets []string `mapstructure:"quote_assets"`
	Sync        bool     `mapstructure:"sync"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`       // debug, info, warn, error
	Format      string `mapstructure:"format"`      // json or console
	OutputFile  string `mapstructure:"output_file"` // optional rotated file
	Environment string `mapstructure:"environment"` // dev or prod
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.rest.base_url", "https://api.binance.com")
	v.SetDefault("binance.rest.timeout", 10*time.Second)
	v.SetDefault("binance.ws.url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("binance.ws.handshake_timeout", 10*time.Second)
	v.SetDefault("binance.ws.read_timeout", time.Minute)

	v.SetDefault("stream.reconnect_delay", 3*time.Second)
	v.SetDefault("stream.max_consecutive_failures", 0)
	v.SetDefault("stream.subscriber_buffer", 256)
	v.SetDefault("stream.idle_grace", time.Minute)
	v.SetDefault("stream.autostart", []string{})

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.ttl", 60*time.Second)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "marketstream:")
	v.SetDefault("cache.redis.dial_timeout", 2*time.Second)
	v.SetDefault("cache.redis.read_timeout", time.Second)
	v.SetDefault("cache.redis.write_timeout", time.Second)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.max_retries", 1)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.create_db", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "marketstream")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("symbols.quote_assets", []string{"USDT", "BTC"})
	v.SetDefault("symbols.sync", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_file", "")
	v.SetDefault("log.environment", "dev")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", true)
}

// Load reads config.yaml, applies environment overrides and exits on failure.
// CONFIG_PATH may name the file or its directory.
func Load() *Config {
	cfg, err := LoadFrom(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom is Load with an explicit path. An empty path searches ./config,
// ../../config (go test / go run) and ../config next to the executable.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	switch {
	case path == "":
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "config"))
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		v.SetConfigFile(path)
	default:
		v.AddConfigPath(path)
	}

	// Environment variables with dot notation (e.g., STREAM_RECONNECT_DELAY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file on the search path: defaults plus environment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("cache.backend must be redis or memory, got %q", c.Cache.Backend)
	}
	if c.Stream.SubscriberBuffer < 0 {
		return fmt.Errorf("stream.subscriber_buffer must be >= 0, got %d", c.Stream.SubscriberBuffer)
	}
	if c.Stream.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("stream.max_consecutive_failures must be >= 0, got %d", c.Stream.MaxConsecutiveFailures)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is empty")
	}
	return nil
}
