package main

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drunlade/go-uartwire/wire"
)

// fileConfig is the operator configuration, loaded from
// ~/.uartwire/config.yaml. Flags override file values.
type fileConfig struct {
	Device    string `yaml:"device"`
	Baud      int    `yaml:"baud"`
	BlockSize int    `yaml:"block_size"`

	MaxRetries       int    `yaml:"max_retries"`
	HandshakeRetries int    `yaml:"handshake_retries"`
	AckTimeout       string `yaml:"ack_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`

	LogFile string `yaml:"log_file"`
	NoArm   bool   `yaml:"no_arm"`

	SSH struct {
		Addr     string `yaml:"addr"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Command  string `yaml:"command"`
	} `yaml:"ssh"`
}

// defaultConfigPath returns ~/.uartwire/config.yaml.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".uartwire", "config.yaml")
	}
	return filepath.Join(home, ".uartwire", "config.yaml")
}

// loadConfig reads the YAML config. A missing file yields defaults
// without error.
func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{
		Baud: 115200,
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// protocolConfig translates the operator config into protocol knobs.
// Unset values fall through to the protocol defaults.
func (c *fileConfig) protocolConfig() (*wire.Config, error) {
	out := wire.DefaultConfig()
	if c.BlockSize > 0 {
		out.BlockSize = c.BlockSize
	}
	if c.MaxRetries > 0 {
		out.MaxRetries = c.MaxRetries
	}
	if c.HandshakeRetries > 0 {
		out.HandshakeRetries = c.HandshakeRetries
	}
	if c.AckTimeout != "" {
		d, err := time.ParseDuration(c.AckTimeout)
		if err != nil {
			return nil, err
		}
		out.AckTimeout = d
	}
	if c.HandshakeTimeout != "" {
		d, err := time.ParseDuration(c.HandshakeTimeout)
		if err != nil {
			return nil, err
		}
		out.HandshakeTimeout = d
	}
	return out, nil
}
