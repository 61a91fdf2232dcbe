package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/acoustlink/acoustlink/internal/phy"
)

// Config represents the complete modem daemon configuration
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Modem     ModemConfig     `yaml:"modem"`
	Sense     SenseConfig     `yaml:"sense"`
	MAC       MACConfig       `yaml:"mac"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Database  DatabaseConfig  `yaml:"database"`
}

// NodeConfig identifies this node on the link
type NodeConfig struct {
	Address uint8 `yaml:"address"`
}

// ModemConfig contains PHY waveform parameters. Both ends of a link must
// agree on all of them.
type ModemConfig struct {
	LineCoding           string `yaml:"line_coding"`
	SamplesPerLevel      int    `yaml:"samples_per_level"`
	PreamblePatternBytes int    `yaml:"preamble_pattern_bytes"`
	InterFrameGapSamples int    `yaml:"inter_frame_gap_samples"`
}

// SenseConfig contains carrier sensing parameters
type SenseConfig struct {
	WindowSamples int     `yaml:"window_samples"`
	Threshold     float32 `yaml:"threshold"`
}

// MACConfig contains CSMA and ARQ timing parameters
type MACConfig struct {
	DIFSMS       int `yaml:"difs_ms"`
	SlotTimeMS   int `yaml:"slot_time_ms"`
	AckTimeoutMS int `yaml:"ack_timeout_ms"`
	CWMin        int `yaml:"cw_min"`
	CWMax        int `yaml:"cw_max"`
	MaxRetries   int `yaml:"max_retries"`
}

// TransportConfig contains the UDP sample transport addresses
type TransportConfig struct {
	ListenAddress    string `yaml:"listen_address"`
	RemoteAddress    string `yaml:"remote_address"`
	ReadBatchSamples int    `yaml:"read_batch_samples"`
}

// MetricsConfig contains the Prometheus exposition endpoint
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// DatabaseConfig contains the link event log settings
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	return &Config{
		Node: NodeConfig{Address: 1},
		Modem: ModemConfig{
			LineCoding:           string(phy.LineCodingManchester),
			SamplesPerLevel:      4,
			PreamblePatternBytes: 8,
			InterFrameGapSamples: 48,
		},
		Sense: SenseConfig{
			WindowSamples: 20,
			Threshold:     0.05,
		},
		MAC: MACConfig{
			DIFSMS:       20,
			SlotTimeMS:   5,
			AckTimeoutMS: 200,
			CWMin:        8,
			CWMax:        256,
			MaxRetries:   5,
		},
		Transport: TransportConfig{
			ListenAddress:    "0.0.0.0:9800",
			ReadBatchSamples: 256,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: "127.0.0.1:9810",
		},
		Database: DatabaseConfig{
			Enabled: false,
			Path:    "acoustlink.db",
		},
	}
}

// Load reads and parses the configuration file. Absent fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Modem.Validate(); err != nil {
		return fmt.Errorf("modem config: %w", err)
	}

	if err := c.Sense.Validate(); err != nil {
		return fmt.Errorf("sense config: %w", err)
	}

	if err := c.MAC.Validate(); err != nil {
		return fmt.Errorf("mac config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics config: listen_address cannot be empty when enabled")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database config: path cannot be empty when enabled")
	}

	return nil
}

// Validate validates modem configuration
func (m *ModemConfig) Validate() error {
	switch phy.LineCodingKind(m.LineCoding) {
	case phy.LineCodingManchester, phy.LineCoding4B5B:
	default:
		return fmt.Errorf("line_coding must be %q or %q, got %q",
			phy.LineCodingManchester, phy.LineCoding4B5B, m.LineCoding)
	}

	if m.SamplesPerLevel < 1 || m.SamplesPerLevel > 64 {
		return fmt.Errorf("samples_per_level must be between 1 and 64, got %d", m.SamplesPerLevel)
	}

	if m.PreamblePatternBytes < 2 {
		return fmt.Errorf("preamble_pattern_bytes must be at least 2, got %d", m.PreamblePatternBytes)
	}

	if m.InterFrameGapSamples < 0 {
		return fmt.Errorf("inter_frame_gap_samples cannot be negative, got %d", m.InterFrameGapSamples)
	}

	return nil
}

// Validate validates sensing configuration
func (s *SenseConfig) Validate() error {
	if s.WindowSamples < 1 {
		return fmt.Errorf("window_samples must be at least 1, got %d", s.WindowSamples)
	}

	if s.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", s.Threshold)
	}

	return nil
}

// Validate validates MAC timing configuration
func (m *MACConfig) Validate() error {
	if m.DIFSMS < 1 {
		return fmt.Errorf("difs_ms must be at least 1, got %d", m.DIFSMS)
	}

	if m.SlotTimeMS < 1 {
		return fmt.Errorf("slot_time_ms must be at least 1, got %d", m.SlotTimeMS)
	}

	if m.AckTimeoutMS < 1 {
		return fmt.Errorf("ack_timeout_ms must be at least 1, got %d", m.AckTimeoutMS)
	}

	if m.CWMin < 1 {
		return fmt.Errorf("cw_min must be at least 1, got %d", m.CWMin)
	}

	if m.CWMax < m.CWMin {
		return fmt.Errorf("cw_max (%d) cannot be smaller than cw_min (%d)", m.CWMax, m.CWMin)
	}

	if m.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", m.MaxRetries)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	if t.ListenAddress == "" {
		return fmt.Errorf("listen_address cannot be empty")
	}

	if t.ReadBatchSamples < 16 {
		return fmt.Errorf("read_batch_samples must be at least 16, got %d", t.ReadBatchSamples)
	}

	return nil
}
