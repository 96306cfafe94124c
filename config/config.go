package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"arbflow/models"
)

type Config struct {
	Arbflow   ArbflowConfig   `yaml:"arbflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Venues    []VenueConfig   `yaml:"venues"`
	Risk      RiskConfig      `yaml:"risk"`
	Arbitrage ArbitrageConfig `yaml:"arbitrage"`
	Router    RouterConfig    `yaml:"router"`
	Affinity  AffinityConfig  `yaml:"affinity"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ArbflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// ChannelsConfig sizes the lock-free rings between pipeline stages.
// Sizes must be powers of two; usable capacity is one less than the size.
type ChannelsConfig struct {
	MarketDataBuffer int `yaml:"market_data_buffer"`
	OrderBuffer      int `yaml:"order_buffer"`
	ReportBuffer     int `yaml:"report_buffer"`
}

type VenueConfig struct {
	Protocol         models.Protocol `yaml:"protocol"`
	URL              string          `yaml:"url"`
	Channels         []string        `yaml:"channels"`
	AutoReconnect    bool            `yaml:"auto_reconnect"`
	MaxReconnects    int             `yaml:"max_reconnects"`
	ReconnectDelay   time.Duration   `yaml:"reconnect_delay"`
	SendRateLimit    float64         `yaml:"send_rate_limit"` // messages/sec, 0 = unlimited
	SendRateBurst    int             `yaml:"send_rate_burst"`
	PingInterval     time.Duration   `yaml:"ping_interval"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
}

// RiskConfig is the immutable pre-trade risk limit set. A zero value for
// any limit means "no limit" for that check.
type RiskConfig struct {
	MaxOrderSize         float64 `yaml:"max_order_size"`
	MaxPositionPerMarket float64 `yaml:"max_position_per_market"`
	MaxTotalPosition     float64 `yaml:"max_total_position"`
	MaxOrdersPerSecond   int     `yaml:"max_orders_per_second"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
}

type ArbitrageConfig struct {
	MinSpreadBps float64                     `yaml:"min_spread_bps"`
	MinProfit    float64                     `yaml:"min_profit"`
	MaxQuoteAge  time.Duration               `yaml:"max_quote_age"`
	ScanInterval time.Duration               `yaml:"scan_interval"`
	FeesBps      map[models.Protocol]float64 `yaml:"fees_bps"`
	Markets      []string                    `yaml:"markets"` // empty = all known markets
}

type RouterConfig struct {
	LatencyWeight   float64 `yaml:"latency_weight"`
	FillRateWeight  float64 `yaml:"fill_rate_weight"`
	PriceWeight     float64 `yaml:"price_weight"`
	MinSplitSize    float64 `yaml:"min_split_size"`
	DefaultStrategy string  `yaml:"default_strategy"`
}

// AffinityConfig selects the CPU core for each hot-path thread.
// A negative core index disables pinning for that thread.
// RealtimePriority above zero requests SCHED_FIFO at that priority for
// the engine threads; it needs CAP_SYS_NICE and degrades gracefully
// without it.
type AffinityConfig struct {
	MarketDataCore   int `yaml:"market_data_core"`
	OrderCore        int `yaml:"order_core"`
	ReportCore       int `yaml:"report_core"`
	DetectorCore     int `yaml:"detector_core"`
	RealtimePriority int `yaml:"realtime_priority"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads, defaults and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{
			MarketDataBuffer: 65536,
			OrderBuffer:      4096,
			ReportBuffer:     4096,
		},
		Arbitrage: ArbitrageConfig{
			MinSpreadBps: 10,
			MaxQuoteAge:  5 * time.Second,
			ScanInterval: time.Millisecond,
		},
		Router: RouterConfig{
			LatencyWeight:   0.3,
			FillRateWeight:  0.3,
			PriceWeight:     0.4,
			DefaultStrategy: "smart",
		},
		Affinity: AffinityConfig{
			MarketDataCore: -1,
			OrderCore:      -1,
			ReportCore:     -1,
			DetectorCore:   -1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Arbflow.Name == "" {
		return fmt.Errorf("arbflow.name is required")
	}
	if cfg.Arbflow.Version == "" {
		return fmt.Errorf("arbflow.version is required")
	}

	for _, size := range []struct {
		name string
		val  int
	}{
		{"channels.market_data_buffer", cfg.Channels.MarketDataBuffer},
		{"channels.order_buffer", cfg.Channels.OrderBuffer},
		{"channels.report_buffer", cfg.Channels.ReportBuffer},
	} {
		if size.val <= 0 || size.val&(size.val-1) != 0 {
			return fmt.Errorf("%s must be a power of two, got %d", size.name, size.val)
		}
	}

	for i, v := range cfg.Venues {
		if !v.Protocol.Valid() {
			return fmt.Errorf("venues[%d].protocol '%s' is not recognized", i, v.Protocol)
		}
		if v.URL == "" {
			return fmt.Errorf("venues[%d].url is required", i)
		}
		if v.AutoReconnect && v.MaxReconnects <= 0 {
			return fmt.Errorf("venues[%d].max_reconnects must be greater than 0 when auto_reconnect is set", i)
		}
	}

	if cfg.Risk.MaxOrderSize < 0 || cfg.Risk.MaxPositionPerMarket < 0 ||
		cfg.Risk.MaxTotalPosition < 0 || cfg.Risk.MaxDailyLoss < 0 {
		return fmt.Errorf("risk limits must not be negative")
	}
	if cfg.Risk.MaxOrdersPerSecond < 0 {
		return fmt.Errorf("risk.max_orders_per_second must not be negative")
	}

	if cfg.Arbitrage.ScanInterval <= 0 {
		return fmt.Errorf("arbitrage.scan_interval must be greater than 0")
	}
	if cfg.Arbitrage.MaxQuoteAge <= 0 {
		return fmt.Errorf("arbitrage.max_quote_age must be greater than 0")
	}
	if cfg.Arbitrage.MinSpreadBps < 0 {
		return fmt.Errorf("arbitrage.min_spread_bps must not be negative")
	}

	if cfg.Affinity.RealtimePriority < 0 || cfg.Affinity.RealtimePriority > 99 {
		return fmt.Errorf("affinity.realtime_priority must be in [0, 99], got %d", cfg.Affinity.RealtimePriority)
	}

	wsum := cfg.Router.LatencyWeight + cfg.Router.FillRateWeight + cfg.Router.PriceWeight
	if wsum <= 0 || wsum > 3 {
		return fmt.Errorf("router weights must sum to a value in (0, 3], got %v", wsum)
	}

	if cfg.Recorder.Enabled {
		if cfg.Recorder.Directory == "" {
			return fmt.Errorf("recorder.directory is required when the recorder is enabled")
		}
		if cfg.Recorder.BatchSize <= 0 {
			return fmt.Errorf("recorder.batch_size must be greater than 0 when the recorder is enabled")
		}
		if cfg.Recorder.FlushInterval <= 0 {
			return fmt.Errorf("recorder.flush_interval must be greater than 0 when the recorder is enabled")
		}
	}

	return nil
}
