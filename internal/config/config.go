package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the complete runtime configuration for the transformer
// service.
type Config struct {
	Service  ServiceConfig  `koanf:"service"`
	Queue    QueueConfig    `koanf:"queue"`
	Workers  WorkersConfig  `koanf:"workers"`
	Object   ObjectStore    `koanf:"objectstore"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Filter   FilterConfig   `koanf:"filter"`
	Shutdown ShutdownConfig `koanf:"shutdown"`
}

type ServiceConfig struct {
	InstanceID string `koanf:"instance_id"`
	HTTPListen string `koanf:"http_listen"`
	LogLevel   string `koanf:"log_level"`
}

type QueueConfig struct {
	URL             string `koanf:"url"`
	Name            string `koanf:"name"`
	PollWaitSeconds int    `koanf:"poll_wait_seconds"`
	BatchSize       int    `koanf:"batch_size"`
}

type WorkersConfig struct {
	Concurrency int `koanf:"concurrency"`
}

type ObjectStore struct {
	Endpoint    string `koanf:"endpoint"`
	Region      string `koanf:"region"`
	Credentials string `koanf:"credentials"`
}

type DeliveryConfig struct {
	StreamName         string `koanf:"stream_name"`
	MaxBatchSize       int    `koanf:"max_batch_size"`
	MaxBatchSizeBytes  int    `koanf:"max_batch_size_bytes"`
	MaxRecordSizeBytes int    `koanf:"max_record_size_bytes"`
	MaxLingerMs        int    `koanf:"max_linger_ms"`
	MaxInFlightBatches int    `koanf:"max_in_flight_batches"`
	MaxAttempts        int    `koanf:"max_attempts"`
}

type FilterConfig struct {
	MinRSSI                   int                 `koanf:"min_rssi"`
	MaxRSSI                   int                 `koanf:"max_rssi"`
	MaxLocationAccuracy       float64             `koanf:"max_location_accuracy"`
	ConnectedQualityWeight    float64             `koanf:"connected_quality_weight"`
	ScanQualityWeight         float64             `koanf:"scan_quality_weight"`
	LowLinkSpeedQualityWeight float64             `koanf:"low_link_speed_quality_weight"`
	MobileHotspot             MobileHotspotConfig `koanf:"mobile_hotspot"`
}

type MobileHotspotConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Blacklist []string `koanf:"oui_blacklist"`
	Action    string   `koanf:"action"` // EXCLUDE | FLAG
}

type ShutdownConfig struct {
	GracePeriodSeconds int `koanf:"grace_period_seconds"`
}

// Load reads configuration from an optional YAML file, overlays
// WIFI_TRANSFORMER_-prefixed environment variables, applies defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// WIFI_TRANSFORMER_DELIVERY__STREAM_NAME -> delivery.stream_name
	if err := k.Load(env.Provider("WIFI_TRANSFORMER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "WIFI_TRANSFORMER_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID: "wifi-transformer-1",
			HTTPListen: ":8080",
			LogLevel:   "info",
		},
		Queue: QueueConfig{
			PollWaitSeconds: 20,
			BatchSize:       10,
		},
		Delivery: DeliveryConfig{
			MaxBatchSize:       500,
			MaxBatchSizeBytes:  4_000_000,
			MaxRecordSizeBytes: 1_000_000,
			MaxLingerMs:        200,
			MaxInFlightBatches: 8,
			MaxAttempts:        3,
		},
		Filter: FilterConfig{
			MinRSSI:                   -100,
			MaxRSSI:                   0,
			MaxLocationAccuracy:       150,
			ConnectedQualityWeight:    2.0,
			ScanQualityWeight:         1.0,
			LowLinkSpeedQualityWeight: 0.5,
			MobileHotspot: MobileHotspotConfig{
				Enabled: false,
				Action:  "EXCLUDE",
			},
		},
		Shutdown: ShutdownConfig{
			GracePeriodSeconds: 30,
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields.
	if len(cfg.Filter.MobileHotspot.Blacklist) == 1 && strings.Contains(cfg.Filter.MobileHotspot.Blacklist[0], ",") {
		cfg.Filter.MobileHotspot.Blacklist = strings.Split(cfg.Filter.MobileHotspot.Blacklist[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency. A
// non-nil return is a fatal config error (exit code 1).
func (c *Config) Validate() error {
	if c.Queue.URL == "" && c.Queue.Name == "" {
		return fmt.Errorf("config: exactly one of queue.url or queue.name is required")
	}
	if c.Queue.URL != "" && c.Queue.Name != "" {
		return fmt.Errorf("config: only one of queue.url or queue.name may be set")
	}
	if c.Queue.PollWaitSeconds <= 0 {
		return fmt.Errorf("config: queue.poll_wait_seconds must be > 0 (got %d)", c.Queue.PollWaitSeconds)
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("config: queue.batch_size must be > 0 (got %d)", c.Queue.BatchSize)
	}
	if c.Delivery.StreamName == "" {
		return fmt.Errorf("config: delivery.stream_name is required")
	}
	if c.Delivery.MaxBatchSize <= 0 {
		return fmt.Errorf("config: delivery.max_batch_size must be > 0 (got %d)", c.Delivery.MaxBatchSize)
	}
	if c.Delivery.MaxBatchSizeBytes <= 0 {
		return fmt.Errorf("config: delivery.max_batch_size_bytes must be > 0 (got %d)", c.Delivery.MaxBatchSizeBytes)
	}
	if c.Delivery.MaxRecordSizeBytes <= 0 {
		return fmt.Errorf("config: delivery.max_record_size_bytes must be > 0 (got %d)", c.Delivery.MaxRecordSizeBytes)
	}
	if c.Delivery.MaxRecordSizeBytes > c.Delivery.MaxBatchSizeBytes {
		return fmt.Errorf("config: delivery.max_record_size_bytes (%d) exceeds delivery.max_batch_size_bytes (%d)",
			c.Delivery.MaxRecordSizeBytes, c.Delivery.MaxBatchSizeBytes)
	}
	if c.Delivery.MaxLingerMs <= 0 {
		return fmt.Errorf("config: delivery.max_linger_ms must be > 0 (got %d)", c.Delivery.MaxLingerMs)
	}
	if c.Delivery.MaxInFlightBatches <= 0 {
		return fmt.Errorf("config: delivery.max_in_flight_batches must be > 0 (got %d)", c.Delivery.MaxInFlightBatches)
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("config: delivery.max_attempts must be > 0 (got %d)", c.Delivery.MaxAttempts)
	}
	if c.Filter.MinRSSI > c.Filter.MaxRSSI {
		return fmt.Errorf("config: filter.min_rssi (%d) exceeds filter.max_rssi (%d)", c.Filter.MinRSSI, c.Filter.MaxRSSI)
	}
	if c.Filter.MaxLocationAccuracy <= 0 {
		return fmt.Errorf("config: filter.max_location_accuracy must be > 0 (got %f)", c.Filter.MaxLocationAccuracy)
	}
	if c.Filter.MobileHotspot.Enabled {
		action := strings.ToUpper(c.Filter.MobileHotspot.Action)
		if action != "EXCLUDE" && action != "FLAG" {
			return fmt.Errorf("config: filter.mobile_hotspot.action must be EXCLUDE or FLAG (got %q)", c.Filter.MobileHotspot.Action)
		}
	}
	if c.Shutdown.GracePeriodSeconds <= 0 {
		return fmt.Errorf("config: shutdown.grace_period_seconds must be > 0 (got %d)", c.Shutdown.GracePeriodSeconds)
	}
	return nil
}

// EffectiveConcurrency returns the configured worker concurrency,
// defaulting to numCPU when unset or non-positive.
func (c WorkersConfig) EffectiveConcurrency(numCPU int) int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return numCPU
}
