// Package config loads Argus configuration from file and environment.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the Argus correlation core.
type Config struct {
	// DataDir is the base data directory (ARGUS_DATA_DIR, default ./data).
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the detections database path; defaults to
	// ${DataDir}/detections.db when empty.
	SQLitePath string `mapstructure:"sqlite_path"`

	Engine struct {
		// RulesFile is an optional YAML file of correlation rules loaded at startup.
		RulesFile string `mapstructure:"rules_file"`
		// GCInterval is the background sweep period for expired contexts.
		GCInterval time.Duration `mapstructure:"gc_interval"`
		// MaxContextEvents caps events retained per correlation context.
		MaxContextEvents int `mapstructure:"max_context_events"`
		// BuiltinRules enables the shipped rule set.
		BuiltinRules bool `mapstructure:"builtin_rules"`
	} `mapstructure:"engine"`

	Detector struct {
		// BruteforceWindow bounds the ssh_bruteforce_ip sliding counter.
		BruteforceWindow time.Duration `mapstructure:"bruteforce_window"`
		// BruteforceThreshold is the failure count that fires an alert.
		BruteforceThreshold int `mapstructure:"bruteforce_threshold"`
		// SuccessAfterFailMin is the accumulated failure count at which a
		// subsequent success becomes critical.
		SuccessAfterFailMin int `mapstructure:"success_after_fail_min"`
		// EvidenceLimit caps evidence records attached to one alert.
		EvidenceLimit int `mapstructure:"evidence_limit"`
	} `mapstructure:"detector"`

	Metrics struct {
		// Addr is the Prometheus exposition listen address; empty disables it.
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"logging"`
}

// setDefaults registers defaults for every key so a missing config file
// yields a fully working configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("sqlite_path", "")

	v.SetDefault("engine.rules_file", "")
	v.SetDefault("engine.gc_interval", 30*time.Second)
	v.SetDefault("engine.max_context_events", 1000)
	v.SetDefault("engine.builtin_rules", true)

	v.SetDefault("detector.bruteforce_window", 300*time.Second)
	v.SetDefault("detector.bruteforce_threshold", 10)
	v.SetDefault("detector.success_after_fail_min", 5)
	v.SetDefault("detector.evidence_limit", 20)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
}

// Load reads configuration from the given file path (optional) and the
// ARGUS_* environment, applying defaults for everything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.SQLitePath == "" {
		cfg.SQLitePath = filepath.Join(cfg.DataDir, "detections.db")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.GCInterval <= 0 {
		return fmt.Errorf("engine.gc_interval must be positive, got %s", c.Engine.GCInterval)
	}
	if c.Engine.MaxContextEvents < 1 {
		return fmt.Errorf("engine.max_context_events must be at least 1, got %d", c.Engine.MaxContextEvents)
	}
	if c.Detector.BruteforceWindow <= 0 {
		return fmt.Errorf("detector.bruteforce_window must be positive, got %s", c.Detector.BruteforceWindow)
	}
	if c.Detector.BruteforceThreshold < 1 {
		return fmt.Errorf("detector.bruteforce_threshold must be at least 1, got %d", c.Detector.BruteforceThreshold)
	}
	if c.Detector.SuccessAfterFailMin < 1 {
		return fmt.Errorf("detector.success_after_fail_min must be at least 1, got %d", c.Detector.SuccessAfterFailMin)
	}
	if c.Detector.EvidenceLimit < 1 {
		return fmt.Errorf("detector.evidence_limit must be at least 1, got %d", c.Detector.EvidenceLimit)
	}
	return nil
}
