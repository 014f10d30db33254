// Package config provides YAML-based configuration loading for netsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the endpoint/application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Io selects the transport backend and optional link conditioner
	Io IoConfig `mapstructure:"io"`

	// Netcode tunes the connection liveness sub-protocol
	Netcode NetcodeConfig `mapstructure:"netcode"`

	// Packet paces outbound application packet flushes
	Packet PacketConfig `mapstructure:"packet"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// IoConfig selects one transport backend and an optional conditioner.
// Example YAML:
//
//	io:
//	  transport:
//	    kind: udp
//	    address: "127.0.0.1:0"
//	  conditioner:
//	    latency_ms: 80
//	    jitter_ms: 20
//	    loss: 0.02
type IoConfig struct {
	Transport   TransportConfig    `mapstructure:"transport"`
	Conditioner *ConditionerConfig `mapstructure:"conditioner"`
}

// FromTransport is the builder form used by in-process callers.
func FromTransport(t TransportConfig) IoConfig {
	return IoConfig{Transport: t}
}

// WithConditioner attaches impairment simulation to the receive path.
func (c IoConfig) WithConditioner(cc ConditionerConfig) IoConfig {
	c.Conditioner = &cc
	return c
}

// TransportConfig describes one backend: kind plus its kind-specific fields.
type TransportConfig struct {
	// Kind: udp or local
	Kind string `mapstructure:"kind"`
	// Address is the bind address for udp (host:port, port 0 = ephemeral);
	// unused for local
	Address string `mapstructure:"address"`
}

// ConditionerConfig parameterizes the simulated link impairment.
type ConditionerConfig struct {
	LatencyMS int     `mapstructure:"latency_ms"`
	JitterMS  int     `mapstructure:"jitter_ms"`
	Loss      float64 `mapstructure:"loss"`
	Duplicate float64 `mapstructure:"duplicate"`
	// Distribution: uniform or normal
	Distribution string `mapstructure:"distribution"`
	// Seed makes the impairment deterministic when non-zero
	Seed int64 `mapstructure:"seed"`
}

// NetcodeConfig tunes keepalive cadence and disconnect detection.
type NetcodeConfig struct {
	NumDisconnectPackets int     `mapstructure:"num_disconnect_packets"`
	KeepaliveSendRate    float64 `mapstructure:"keepalive_send_rate"`
}

// PacketConfig paces outbound flushes.
type PacketConfig struct {
	SendIntervalMS int `mapstructure:"send_interval_ms"`
}

// SendInterval returns the configured interval as a duration.
func (p PacketConfig) SendInterval() time.Duration {
	return time.Duration(p.SendIntervalMS) * time.Millisecond
}

// Default returns a Config populated with sensible defaults: a UDP socket on
// an ephemeral loopback port, no conditioner, stock netcode tuning.
func Default() *Config {
	return &Config{
		AppName: "netsync",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/netsync.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Io: IoConfig{
			Transport: TransportConfig{Kind: "udp", Address: "127.0.0.1:0"},
		},
		Netcode: NetcodeConfig{
			NumDisconnectPackets: 10,
			KeepaliveSendRate:    1.0 / 10.0,
		},
		Packet: PacketConfig{SendIntervalMS: 100},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix NETSYNC and `.`/`-` are replaced
// with `_`. Example: NETSYNC_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("io.transport.kind", cfg.Io.Transport.Kind)
	v.SetDefault("io.transport.address", cfg.Io.Transport.Address)
	// no default for io.conditioner: absent means disabled
	v.SetDefault("netcode.num_disconnect_packets", cfg.Netcode.NumDisconnectPackets)
	v.SetDefault("netcode.keepalive_send_rate", cfg.Netcode.KeepaliveSendRate)
	v.SetDefault("packet.send_interval_ms", cfg.Packet.SendIntervalMS)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("NETSYNC_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `netsync`
		v.SetConfigName("netsync")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".netsync"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	c.Io.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Io.Transport.Kind))
	switch c.Io.Transport.Kind {
	case "udp", "local":
		// ok
	default:
		return fmt.Errorf("unsupported io.transport.kind: %q", c.Io.Transport.Kind)
	}

	if cc := c.Io.Conditioner; cc != nil {
		if cc.Loss < 0 || cc.Loss > 1 {
			return fmt.Errorf("io.conditioner.loss out of range: %v", cc.Loss)
		}
		if cc.Duplicate < 0 || cc.Duplicate > 1 {
			return fmt.Errorf("io.conditioner.duplicate out of range: %v", cc.Duplicate)
		}
		switch strings.ToLower(cc.Distribution) {
		case "", "uniform", "normal":
			// ok
		default:
			return fmt.Errorf("unknown io.conditioner.distribution: %q", cc.Distribution)
		}
	}

	// Netcode/packet values below their floor fall back to defaults rather
	// than erroring; a num_disconnect_packets of 1 is deliberate and valid.
	if c.Netcode.NumDisconnectPackets < 1 {
		c.Netcode.NumDisconnectPackets = Default().Netcode.NumDisconnectPackets
	}
	if c.Netcode.KeepaliveSendRate <= 0 {
		c.Netcode.KeepaliveSendRate = Default().Netcode.KeepaliveSendRate
	}
	if c.Packet.SendIntervalMS <= 0 {
		c.Packet.SendIntervalMS = Default().Packet.SendIntervalMS
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
