// Package config loads the node's process configuration from environment
// variables, layered over a set of sane defaults, the way cmd/replnode's
// flags do for anything not passed explicitly on the command line.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v7"
)

// Config is replnode's full process configuration.
type Config struct {
	SetName         string   `env:"REPLSETD_SET_NAME"`
	ListenAddr      string   `env:"REPLSETD_LISTEN_ADDR" envDefault:"127.0.0.1:27017"`
	ControlAddr     string   `env:"REPLSETD_CONTROL_ADDR" envDefault:"127.0.0.1:27018"`
	DataDir         string   `env:"REPLSETD_DATA_DIR" envDefault:"./replsetd-data"`
	MetricsAddr     string   `env:"REPLSETD_METRICS_ADDR" envDefault:"127.0.0.1:9090"`
	Seeds           []string `env:"REPLSETD_SEEDS" envSeparator:","`
	ReplicationMode string   `env:"REPLSETD_REPLICATION_MODE" envDefault:"replset"`
	LogLevel        string   `env:"REPLSETD_LOG_LEVEL" envDefault:"info"`
	LogJSON         bool     `env:"REPLSETD_LOG_JSON" envDefault:"false"`
}

// DefaultConfig returns a Config holding its envDefault values overlaid with
// any REPLSETD_* variables already set in the process environment.
// cmd/replnode starts from it, applies Load, and then overlays the flags
// given on the command line.
func DefaultConfig() Config {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		// Parsing fails only on a malformed REPLSETD_* value.
		panic(fmt.Sprintf("config: default parse: %v", err))
	}
	return cfg
}

// Load overlays the process environment onto cfg, in place.
func Load(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	return nil
}
