package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketchart/internal/chart/timeseries"
	"marketchart/internal/indicator"
	"marketchart/internal/model"
)

// Config holds all application configuration, loaded from environment
// variables (optionally seeded from a .env file) and an optional YAML file.
type Config struct {
	// Servers
	HTTPAddr    string `validate:"required"`
	MetricsAddr string

	// History
	HistoryBackend  string `validate:"oneof=sql http"`
	HistoryDriver   string `validate:"oneof=sqlite3 postgres"`
	HistoryDSN      string `validate:"required_if=HistoryBackend sql"`
	HistoryURL      string `validate:"required_if=HistoryBackend http,omitempty,url"`
	HistoryCacheTTL time.Duration

	// Infrastructure
	RedisAddr     string
	RedisPassword string

	// Realtime
	FeedKind     string   `validate:"oneof=ws redis kafka none"`
	FeedURL      string   `validate:"required_if=FeedKind ws"`
	FeedChannel  string   `validate:"required_if=FeedKind redis"`
	KafkaBrokers []string `validate:"required_if=FeedKind kafka"`
	KafkaTopic   string   `validate:"required_if=FeedKind kafka"`
	QuoteURL     string   `validate:"omitempty,url"`
	SnapshotCron string

	// Chart
	MarketTZ          string `validate:"required"`
	Holidays          []string
	PageSize          int `validate:"min=1,max=5000"`
	BackfillThreshold int `validate:"min=1"`
	VisibleBars       int `validate:"min=2"`
	Studies           []indicator.Spec
	Theme             timeseries.Theme
	DefaultInstrument model.Instrument

	LogLevel    string
	ChartConfig string
}

// fileConfig is the shape of the CHART_CONFIG YAML file.
type fileConfig struct {
	Studies           []indicator.Spec  `yaml:"studies"`
	Theme             *timeseries.Theme `yaml:"theme"`
	Holidays          []string          `yaml:"holidays"`
	DefaultInstrument *model.Instrument `yaml:"default_instrument"`
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; it
// never overrides variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: .env not loaded", "error", err)
	}

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		HistoryBackend:  getEnv("HISTORY_BACKEND", "sql"),
		HistoryDriver:   getEnv("HISTORY_DRIVER", "sqlite3"),
		HistoryDSN:      getEnv("HISTORY_DSN", "data/candles.db"),
		HistoryURL:      getEnv("HISTORY_URL", ""),
		HistoryCacheTTL: time.Duration(getEnvInt("HISTORY_CACHE_TTL_S", 300)) * time.Second,

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		FeedKind:     getEnv("FEED_KIND", "ws"),
		FeedURL:      getEnv("FEED_URL", "ws://localhost:8765/ws"),
		FeedChannel:  getEnv("FEED_CHANNEL", "chart:ticks"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chart.ticks"),
		QuoteURL:     getEnv("QUOTE_URL", ""),
		SnapshotCron: getEnv("SNAPSHOT_CRON", "@every 30s"),

		MarketTZ:          getEnv("MARKET_TZ", "Asia/Seoul"),
		PageSize:          getEnvInt("PAGE_SIZE", 250),
		BackfillThreshold: getEnvInt("BACKFILL_THRESHOLD", 10),
		VisibleBars:       getEnvInt("VISIBLE_BARS", 80),
		Studies:           indicator.DefaultSpecs(),
		Theme:             timeseries.DefaultTheme(),
		DefaultInstrument: model.Instrument{Exchange: "KRX", Market: "KOSPI", Code: "005930"},

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ChartConfig: getEnv("CHART_CONFIG", ""),
	}

	if cfg.ChartConfig != "" {
		if err := cfg.applyFile(cfg.ChartConfig); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("STUDIES"); v != "" {
		specs, err := indicator.ParseSpecs(v)
		if err != nil {
			return nil, fmt.Errorf("config: STUDIES: %w", err)
		}
		cfg.Studies = specs
	}
	if v := os.Getenv("DEFAULT_INSTRUMENT"); v != "" {
		inst, err := ParseInstrument(v)
		if err != nil {
			return nil, fmt.Errorf("config: DEFAULT_INSTRUMENT: %w", err)
		}
		cfg.DefaultInstrument = inst
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and every study definition.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if len(c.Studies) == 0 {
		return errors.New("config: at least one study is required")
	}
	for _, s := range c.Studies {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("config: study: %w", err)
		}
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(fc.Studies) > 0 {
		c.Studies = fc.Studies
	}
	if fc.Theme != nil {
		c.Theme = *fc.Theme
	}
	if fc.Holidays != nil {
		c.Holidays = fc.Holidays
	}
	if fc.DefaultInstrument != nil {
		c.DefaultInstrument = *fc.DefaultInstrument
	}
	return nil
}

// ParseInstrument parses "EXCHANGE:MARKET:CODE".
func ParseInstrument(s string) (model.Instrument, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[2] == "" {
		return model.Instrument{}, fmt.Errorf("invalid instrument %q, want EXCHANGE:MARKET:CODE", s)
	}
	return model.Instrument{Exchange: parts[0], Market: parts[1], Code: parts[2]}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
