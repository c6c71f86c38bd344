package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given explicitly.
const DefaultPath = "configs/config.yaml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Rate-limit direction modes.
const (
	ModeIncoming = "incoming"
	ModeOutgoing = "outgoing"
	ModeBoth     = "both"
)

// CaptureConfig holds the capture dispatcher settings.
type CaptureConfig struct {
	Interface    string   `yaml:"interface"`
	PacketLimit  int64    `yaml:"packet_limit"`
	SnapshotLen  int32    `yaml:"snapshot_len"`
	Promiscuous  bool     `yaml:"promiscuous"`
	PollTimeout  string   `yaml:"poll_timeout"`
	SkipPatterns []string `yaml:"skip_patterns"`
	ExcludeAny   bool     `yaml:"exclude_any"`
}

// AggregatorConfig holds the configuration for the flow aggregator.
type AggregatorConfig struct {
	MaxFlows  int    `yaml:"max_flows"`
	NumShards uint32 `yaml:"num_shards"`
	CSVPath   string `yaml:"csv_path"`
	// BatchInterval finalizes the flow table periodically when set.
	BatchInterval string `yaml:"batch_interval"`
}

// DenylistConfig points at the line-delimited block lists.
type DenylistConfig struct {
	IPFile   string `yaml:"ip_file"`
	PortFile string `yaml:"port_file"`
}

// RateLimitConfig holds the SYN token bucket parameters.
type RateLimitConfig struct {
	Rate           float64 `yaml:"rate"`
	Burst          int     `yaml:"burst"`
	Mode           string  `yaml:"mode"`
	MaxEntries     int     `yaml:"max_entries"`
	ExemptLoopback bool    `yaml:"exempt_loopback"`
}

// MalformedConfig holds the validator settings.
type MalformedConfig struct {
	LogPath           string `yaml:"log_path"`
	PcapPath          string `yaml:"pcap_path"`
	VerifyIPChecksum  bool   `yaml:"verify_ip_checksum"`
	VerifyTCPChecksum bool   `yaml:"verify_tcp_checksum"`
}

// EventsConfig configures drop event publication.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the configuration for the ClickHouse flow sink.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// ScorerConfig configures the gRPC risk-scoring client.
type ScorerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

// APIConfig configures the status HTTP server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig sets the diagnostic log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture    CaptureConfig    `yaml:"capture"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Denylist   DenylistConfig   `yaml:"denylist"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Malformed  MalformedConfig  `yaml:"malformed"`
	Events     EventsConfig     `yaml:"events"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			PacketLimit:  50,
			SnapshotLen:  65536,
			Promiscuous:  true,
			PollTimeout:  "1s",
			SkipPatterns: []string{"bluetooth", "dbus", "nflog", "nfqueue", "usbmon"},
			ExcludeAny:   true,
		},
		Aggregator: AggregatorConfig{
			MaxFlows:  1024,
			NumShards: 64,
			CSVPath:   "summary_batch_1.csv",
		},
		Denylist: DenylistConfig{
			IPFile:   "IP.txt",
			PortFile: "Ports.txt",
		},
		RateLimit: RateLimitConfig{
			Rate:       1,
			Burst:      2,
			Mode:       ModeBoth,
			MaxEntries: 65536,
		},
		Malformed: MalformedConfig{
			LogPath:           "malformed.csv",
			VerifyIPChecksum:  true,
			VerifyTCPChecksum: true,
		},
		Events: EventsConfig{
			Subject: "gons.events.drop",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "default",
			Username: "default",
			Table:    "flow_summary",
		},
		Scorer: ScorerConfig{
			Timeout: "10s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the
// defaults and validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is LoadConfig, except that a missing file at DefaultPath
// yields the defaults. An explicitly named file must exist.
func LoadOrDefault(filePath string) (*Config, error) {
	if filePath == "" {
		filePath = DefaultPath
	}
	cfg, err := LoadConfig(filePath)
	if err != nil && filePath == DefaultPath && errors.Is(err, fs.ErrNotExist) {
		log.WithField("path", filePath).Warn("Config file not found, using defaults")
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the values that cannot be repaired by a default.
func (c *Config) Validate() error {
	switch {
	case c.RateLimit.Rate <= 0:
		return fmt.Errorf("%w: rate_limit.rate must be positive, got %v", ErrInvalid, c.RateLimit.Rate)
	case c.RateLimit.Burst < 1:
		return fmt.Errorf("%w: rate_limit.burst must be at least 1, got %d", ErrInvalid, c.RateLimit.Burst)
	case c.RateLimit.MaxEntries <= 0:
		return fmt.Errorf("%w: rate_limit.max_entries must be positive", ErrInvalid)
	case c.Aggregator.MaxFlows <= 0:
		return fmt.Errorf("%w: aggregator.max_flows must be positive", ErrInvalid)
	case c.Aggregator.NumShards == 0:
		return fmt.Errorf("%w: aggregator.num_shards must be positive", ErrInvalid)
	}
	switch c.RateLimit.Mode {
	case ModeIncoming, ModeOutgoing, ModeBoth:
	default:
		return fmt.Errorf("%w: rate_limit.mode %q is not one of incoming, outgoing, both", ErrInvalid, c.RateLimit.Mode)
	}
	for name, v := range map[string]string{
		"capture.poll_timeout":      c.Capture.PollTimeout,
		"aggregator.batch_interval": c.Aggregator.BatchInterval,
		"scorer.timeout":            c.Scorer.Timeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}
	return nil
}

// Timeout returns the bounded receive timeout, one second if unset.
func (c CaptureConfig) Timeout() time.Duration {
	return parseDuration(c.PollTimeout, time.Second)
}

// Interval returns the periodic batch interval, zero when batches are only
// produced at run end.
func (c AggregatorConfig) Interval() time.Duration {
	return parseDuration(c.BatchInterval, 0)
}

// RequestTimeout returns the per-call deadline for the scorer.
func (c ScorerConfig) RequestTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
