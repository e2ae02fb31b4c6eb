package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lumidlab/control-my-robot/scservo"
)

// Config is the YAML bus configuration for scservoctl. Flags override any
// value set here.
type Config struct {
	Port            string `yaml:"port"`
	BaudRate        int    `yaml:"baud_rate"`
	Protocol        string `yaml:"protocol"` // "sts" or "scs"
	TimeoutMs       int    `yaml:"timeout_ms"`
	Retries         int    `yaml:"retries"`
	DisableSyncRead bool   `yaml:"disable_sync_read"`
	Servos          []int  `yaml:"servos"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks config field values.
func (c *Config) Validate() error {
	switch c.Protocol {
	case "", "sts", "scs":
	default:
		return fmt.Errorf("unknown protocol %q (want sts or scs)", c.Protocol)
	}
	if c.BaudRate < 0 {
		return fmt.Errorf("negative baud rate %d", c.BaudRate)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("negative timeout %d", c.TimeoutMs)
	}
	for _, id := range c.Servos {
		if id < 0 || id > scservo.MaxServoID {
			return fmt.Errorf("servo ID %d out of range", id)
		}
	}
	return nil
}

// ProtocolVariant maps the config protocol name to the protocol constant.
func (c *Config) ProtocolVariant() int {
	if c.Protocol == "scs" {
		return scservo.ProtocolSCS
	}
	return scservo.ProtocolSTS
}

// Options builds client options from the config.
func (c *Config) Options() scservo.Options {
	return scservo.Options{
		Port:            c.Port,
		BaudRate:        c.BaudRate,
		Protocol:        c.ProtocolVariant(),
		Timeout:         time.Duration(c.TimeoutMs) * time.Millisecond,
		Retries:         c.Retries,
		DisableSyncRead: c.DisableSyncRead,
	}
}
