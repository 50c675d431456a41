package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the tradeflow service.
type Config struct {
	Tradeflow TradeflowConfig `yaml:"tradeflow"`
	Binance   BinanceConfig   `yaml:"binance"`
	Data      DataConfig      `yaml:"data"`
	Sync      SyncConfig      `yaml:"sync"`
	Orders    OrdersConfig    `yaml:"orders"`
	Stream    StreamConfig    `yaml:"stream"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TradeflowConfig identifies the running application.
type TradeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// BinanceConfig holds endpoint bases and request settings for the USD-M
// futures API. Credentials are never read from the file, only from the
// environment (see environment.go).
type BinanceConfig struct {
	FuturesBase    string        `yaml:"futures_base"`
	StreamBase     string        `yaml:"stream_base"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RecvWindow     int64         `yaml:"recv_window"`
}

// DataConfig holds filesystem locations for the audit trail and snapshots.
type DataConfig struct {
	Dir             string `yaml:"dir"`
	AuditFile       string `yaml:"audit_file"`
	PositionsFile   string `yaml:"positions_file"`
	SummaryFile     string `yaml:"summary_file"`
	AccountFile     string `yaml:"account_file"`
	MarketDataFile  string `yaml:"market_data_file"`
	FundingFile     string `yaml:"funding_file"`
	FundingEstimate string `yaml:"funding_estimate_file"`
}

// SyncConfig drives the background snapshot loops.
type SyncConfig struct {
	PositionsInterval  time.Duration `yaml:"positions_interval"`
	MarketDataInterval time.Duration `yaml:"market_data_interval"`
	FundingInterval    time.Duration `yaml:"funding_interval"`
	FundingLookback    time.Duration `yaml:"funding_lookback"`
	MarketDataSymbols  []string      `yaml:"market_data_symbols"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
}

// OrdersConfig holds defaults applied to order rows that omit a value.
type OrdersConfig struct {
	DefaultLeverage int     `yaml:"default_leverage"`
	MaxNotional     float64 `yaml:"max_notional"`
	MinNotional     float64 `yaml:"min_notional"`
}

// StreamConfig drives the user data stream listener.
type StreamConfig struct {
	Enabled           bool          `yaml:"enabled"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	PositionsRefresh  time.Duration `yaml:"positions_refresh"`
}

// StorageConfig controls optional archival of the audit trail.
type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config holds settings for parquet archival to S3. Static credentials are
// optional; when absent the SDK's default chain applies. Endpoint and
// path-style exist for S3-compatible stores.
type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Prefix          string        `yaml:"prefix"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

// LoggingConfig mirrors the logger package options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig controls CloudWatch publishing.
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Region         string        `yaml:"region"`
	Namespace      string        `yaml:"namespace"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// LoadConfig reads and validates the configuration file at path.
// Environment variables override S3 settings so deployments can retarget
// storage without editing the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("AWS_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.S3.Region = v
		if cfg.Metrics.Region == "" {
			cfg.Metrics.Region = v
		}
	}
	if v := os.Getenv("AWS_S3_PREFIX"); v != "" {
		cfg.Storage.S3.Prefix = v
	}
	if v := os.Getenv("AWS_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.S3.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.S3.SecretAccessKey = v
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Binance.FuturesBase == "" {
		cfg.Binance.FuturesBase = "https://fapi.binance.com"
	}
	if cfg.Binance.StreamBase == "" {
		cfg.Binance.StreamBase = "wss://fstream.binance.com"
	}
	if cfg.Binance.RequestTimeout <= 0 {
		cfg.Binance.RequestTimeout = 15 * time.Second
	}
	if cfg.Binance.RecvWindow <= 0 {
		cfg.Binance.RecvWindow = 5000
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "data"
	}
	if cfg.Data.AuditFile == "" {
		cfg.Data.AuditFile = "orders_audit.csv"
	}
	if cfg.Data.PositionsFile == "" {
		cfg.Data.PositionsFile = "positions.csv"
	}
	if cfg.Data.SummaryFile == "" {
		cfg.Data.SummaryFile = "summary.csv"
	}
	if cfg.Data.AccountFile == "" {
		cfg.Data.AccountFile = "account.json"
	}
	if cfg.Data.MarketDataFile == "" {
		cfg.Data.MarketDataFile = "market_data.csv"
	}
	if cfg.Data.FundingFile == "" {
		cfg.Data.FundingFile = "funding_history.csv"
	}
	if cfg.Data.FundingEstimate == "" {
		cfg.Data.FundingEstimate = "funding_estimates.json"
	}
	if cfg.Sync.PositionsInterval <= 0 {
		cfg.Sync.PositionsInterval = 30 * time.Second
	}
	if cfg.Sync.MarketDataInterval <= 0 {
		cfg.Sync.MarketDataInterval = time.Minute
	}
	if cfg.Sync.FundingInterval <= 0 {
		cfg.Sync.FundingInterval = 15 * time.Minute
	}
	if cfg.Sync.FundingLookback <= 0 {
		cfg.Sync.FundingLookback = 72 * time.Hour
	}
	if cfg.Sync.RequestsPerSecond <= 0 {
		cfg.Sync.RequestsPerSecond = 5
	}
	if cfg.Orders.DefaultLeverage <= 0 {
		cfg.Orders.DefaultLeverage = 2
	}
	if cfg.Orders.MaxNotional <= 0 {
		cfg.Orders.MaxNotional = 100000
	}
	if cfg.Stream.KeepaliveInterval <= 0 {
		cfg.Stream.KeepaliveInterval = 30 * time.Minute
	}
	if cfg.Stream.ReconnectDelay <= 0 {
		cfg.Stream.ReconnectDelay = 5 * time.Second
	}
	if cfg.Stream.PositionsRefresh <= 0 {
		cfg.Stream.PositionsRefresh = 5 * time.Second
	}
	if cfg.Storage.S3.FlushInterval <= 0 {
		cfg.Storage.S3.FlushInterval = 5 * time.Minute
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "Tradeflow"
	}
	if cfg.Metrics.ReportInterval <= 0 {
		cfg.Metrics.ReportInterval = time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Tradeflow.Name == "" {
		return fmt.Errorf("tradeflow.name is required")
	}
	if cfg.Tradeflow.Version == "" {
		return fmt.Errorf("tradeflow.version is required")
	}
	if cfg.Orders.MinNotional < 0 {
		return fmt.Errorf("orders.min_notional must not be negative")
	}
	if cfg.Orders.MinNotional > cfg.Orders.MaxNotional {
		return fmt.Errorf("orders.min_notional exceeds orders.max_notional")
	}
	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket %q is not a valid bucket name", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}
	return nil
}

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if !s3BucketRegexp.MatchString(name) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if name[i] == '.' && name[i-1] == '.' {
			return false
		}
	}
	return true
}
