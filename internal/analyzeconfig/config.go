// Package analyzeconfig holds the analyzer's immutable tuning knobs.
// Configuration is threaded explicitly through the pipeline; nothing in
// this package is mutated after Default or Load returns.
package analyzeconfig

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the analyzer's immutable configuration record (spec.md §5).
type Config struct {
	SSHPort               uint16        `yaml:"ssh_port"`
	SizeToleranceBytes     uint8         `yaml:"size_tolerance_bytes"`
	PairingDeadline        time.Duration `yaml:"-"`
	PairingDeadlineMillis  uint32        `yaml:"pairing_deadline_ms"`
	EchoWindow             time.Duration `yaml:"-"`
	EchoWindowMillis       uint32        `yaml:"echo_window_ms"`
	HasshIncludeLanguages  bool          `yaml:"hassh_include_languages"`
}

// Default returns the spec-mandated defaults: epsilon of 8 bytes, a 2s
// pairing deadline, a 250ms echo window for the oracle's primary method.
func Default() Config {
	c := Config{
		SSHPort:               22,
		SizeToleranceBytes:     8,
		PairingDeadlineMillis:  2000,
		EchoWindowMillis:       250,
		HasshIncludeLanguages:  false,
	}
	c.resolveDurations()
	return c
}

// Load overlays a YAML file on top of Default. Fields absent from the
// file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.resolveDurations()
	return cfg, nil
}

func (c *Config) resolveDurations() {
	c.PairingDeadline = time.Duration(c.PairingDeadlineMillis) * time.Millisecond
	c.EchoWindow = time.Duration(c.EchoWindowMillis) * time.Millisecond
}
