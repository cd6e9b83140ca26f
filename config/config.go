package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OIV2     ServiceConfig  `yaml:"oiv2"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Channels ChannelsConfig `yaml:"channels"`
	Source   SourceConfig   `yaml:"source"`
	Detector DetectorConfig `yaml:"detector"`
	Notifier NotifierConfig `yaml:"notifier"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type ChannelsConfig struct {
	TradeBuffer int `yaml:"trade_buffer"`
	EventBuffer int `yaml:"event_buffer"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type BinanceSourceConfig struct {
	Future BinanceFutureConfig `yaml:"future"`
}

type BinanceFutureConfig struct {
	Trades       StreamConfig `yaml:"trades"`
	OpenInterest StreamConfig `yaml:"open_interest"`
	MarkPrice    StreamConfig `yaml:"mark_price"`
}

type StreamConfig struct {
	Enabled           bool     `yaml:"enabled"`
	URL               string   `yaml:"url"`
	Symbols           []string `yaml:"symbols"`
	ReconnectDelaySec int      `yaml:"reconnect_delay_sec"`
	// StreamIntervalSec selects the exchange side aggregation cadence for
	// streams that expose one (open interest, mark price). Optional.
	StreamIntervalSec int `yaml:"stream_interval_sec"`
}

func (s StreamConfig) ReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelaySec) * time.Second
}

func (s StreamConfig) StreamInterval() time.Duration {
	return time.Duration(s.StreamIntervalSec) * time.Second
}

type DetectorConfig struct {
	TradeWindowSec      int                `yaml:"trade_window_sec"`
	FinalCheckOffsetSec int                `yaml:"final_check_offset_sec"`
	OpenInterest        OIAnalysisConfig   `yaml:"open_interest"`
	Defaults            InstrumentLimits   `yaml:"defaults"`
	Instruments         []InstrumentLimits `yaml:"instruments"`
}

func (d DetectorConfig) TradeWindow() time.Duration {
	return time.Duration(d.TradeWindowSec) * time.Second
}

func (d DetectorConfig) FinalCheckOffset() time.Duration {
	return time.Duration(d.FinalCheckOffsetSec) * time.Second
}

type OIAnalysisConfig struct {
	Enabled           bool `yaml:"enabled"`
	AnalysisWindowSec int  `yaml:"analysis_window_sec"`
	// RetentionMultiple scales the history horizon relative to the analysis
	// window. Must be at least 2 so lookups always have data available.
	RetentionMultiple int `yaml:"retention_multiple"`

	MinDeltaPct      float64 `yaml:"min_delta_pct"`
	MinPriceDeltaPct float64 `yaml:"min_price_delta_pct"`

	DeltaSignificancePct float64 `yaml:"delta_significance_pct"`
	PriceSignificancePct float64 `yaml:"price_significance_pct"`
}

func (o OIAnalysisConfig) AnalysisWindow() time.Duration {
	return time.Duration(o.AnalysisWindowSec) * time.Second
}

// Retention is the history horizon of the open-interest cache.
func (o OIAnalysisConfig) Retention() time.Duration {
	return o.AnalysisWindow() * time.Duration(o.RetentionMultiple)
}

// InstrumentLimits are the per-instrument trigger thresholds. Zero fields fall
// back to the detector defaults at lookup time.
type InstrumentLimits struct {
	Symbol            string  `yaml:"symbol"`
	MinVolumeUSD      float64 `yaml:"min_volume_usd"`
	MinDominancePct   float64 `yaml:"min_dominance_pct"`
	MinPriceChangePct float64 `yaml:"min_price_change_pct"`
	CooldownSec       int     `yaml:"cooldown_sec"`
}

func (l InstrumentLimits) Cooldown() time.Duration {
	return time.Duration(l.CooldownSec) * time.Second
}

type NotifierConfig struct {
	Enabled       bool    `yaml:"enabled"`
	WebhookURL    string  `yaml:"webhook_url"`
	TimeoutSec    int     `yaml:"timeout_sec"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

func (n NotifierConfig) Timeout() time.Duration {
	if n.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(n.TimeoutSec) * time.Second
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ArchiveConfig struct {
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
	MaxBuffer        int    `yaml:"max_buffer"`
	Compression      string `yaml:"compression"`
}

func (a ArchiveConfig) FlushInterval() time.Duration {
	if a.FlushIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(a.FlushIntervalSec) * time.Second
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Limits resolves the trigger thresholds for a symbol, overlaying configured
// per-instrument values on the detector defaults.
func (d DetectorConfig) Limits(symbol string) InstrumentLimits {
	out := d.Defaults
	out.Symbol = strings.ToUpper(symbol)
	for _, inst := range d.Instruments {
		if !strings.EqualFold(inst.Symbol, symbol) {
			continue
		}
		if inst.MinVolumeUSD > 0 {
			out.MinVolumeUSD = inst.MinVolumeUSD
		}
		if inst.MinDominancePct > 0 {
			out.MinDominancePct = inst.MinDominancePct
		}
		if inst.MinPriceChangePct > 0 {
			out.MinPriceChangePct = inst.MinPriceChangePct
		}
		if inst.CooldownSec > 0 {
			out.CooldownSec = inst.CooldownSec
		}
		break
	}
	return out
}

// Symbols returns the union of symbols across the configured streams so the
// detector can size its registries.
func (c *Config) Symbols() []string {
	set := make(map[string]struct{})
	for _, s := range c.Source.Binance.Future.Trades.Symbols {
		set[strings.ToUpper(s)] = struct{}{}
	}
	for _, s := range c.Source.Binance.Future.OpenInterest.Symbols {
		set[strings.ToUpper(s)] = struct{}{}
	}
	for _, s := range c.Source.Binance.Future.MarkPrice.Symbols {
		set[strings.ToUpper(s)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{
			TradeBuffer: 4096,
			EventBuffer: 1024,
		},
		Detector: DetectorConfig{
			TradeWindowSec:      60,
			FinalCheckOffsetSec: 5,
			OpenInterest: OIAnalysisConfig{
				AnalysisWindowSec:    300,
				RetentionMultiple:    3,
				MinDeltaPct:          0.6,
				MinPriceDeltaPct:     0.35,
				DeltaSignificancePct: 0.1,
				PriceSignificancePct: 0.1,
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override secrets from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		config.Notifier.WebhookURL = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.OIV2.Name == "" {
		return fmt.Errorf("oiv2.name is required")
	}
	if cfg.OIV2.Version == "" {
		return fmt.Errorf("oiv2.version is required")
	}

	if cfg.Channels.TradeBuffer <= 0 {
		return fmt.Errorf("channels.trade_buffer must be greater than 0")
	}
	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Detector.TradeWindowSec <= 0 {
		return fmt.Errorf("detector.trade_window_sec must be greater than 0")
	}
	if cfg.Detector.FinalCheckOffsetSec <= 0 || cfg.Detector.FinalCheckOffsetSec >= 60 {
		return fmt.Errorf("detector.final_check_offset_sec must be between 0 and 60")
	}
	if cfg.Detector.Defaults.MinVolumeUSD <= 0 {
		return fmt.Errorf("detector.defaults.min_volume_usd must be greater than 0")
	}
	if cfg.Detector.Defaults.MinDominancePct < 50 || cfg.Detector.Defaults.MinDominancePct > 100 {
		return fmt.Errorf("detector.defaults.min_dominance_pct must be within [50,100]")
	}
	if cfg.Detector.Defaults.CooldownSec <= 0 {
		return fmt.Errorf("detector.defaults.cooldown_sec must be greater than 0")
	}
	for i, inst := range cfg.Detector.Instruments {
		if strings.TrimSpace(inst.Symbol) == "" {
			return fmt.Errorf("detector.instruments[%d].symbol is required", i)
		}
	}

	if cfg.Detector.OpenInterest.Enabled {
		if cfg.Detector.OpenInterest.AnalysisWindowSec <= 0 {
			return fmt.Errorf("detector.open_interest.analysis_window_sec must be greater than 0")
		}
		if cfg.Detector.OpenInterest.RetentionMultiple < 2 {
			return fmt.Errorf("detector.open_interest.retention_multiple must be at least 2")
		}
	}

	if cfg.Notifier.Enabled && cfg.Notifier.WebhookURL == "" {
		return fmt.Errorf("notifier.webhook_url is required when the notifier is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
	}

	return nil
}
