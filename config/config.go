package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Deltaflow DeltaflowConfig `yaml:"deltaflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Rest      RestConfig      `yaml:"rest"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DeltaflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	UpdateBuffer int `yaml:"update_buffer"`
}

// RestConfig configures the signed Delta Exchange REST client. Credentials
// are normally supplied through DELTA_API_KEY / DELTA_API_SECRET rather than
// the configuration file. Transport tuning (timeouts, pool size) is fixed by
// the client itself to match the venue's latency contract.
type RestConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// StreamConfig configures the Binance futures bookTicker listener.
type StreamConfig struct {
	URL              string   `yaml:"url"`
	Symbols          []string `yaml:"symbols"`
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
	ValidateSymbols  bool     `yaml:"validate_symbols"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{UpdateBuffer: 1024},
		Stream: StreamConfig{
			URL:              "wss://fstream.binance.com/stream",
			ReconnectDelayMs: 5000,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials always come from the environment when set there.
	if v := os.Getenv("DELTA_API_KEY"); v != "" {
		config.Rest.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("DELTA_API_SECRET"); v != "" {
		config.Rest.APISecret = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Metrics.Region = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Deltaflow.Name == "" {
		return fmt.Errorf("deltaflow.name is required")
	}

	if cfg.Deltaflow.Version == "" {
		return fmt.Errorf("deltaflow.version is required")
	}

	if cfg.Channels.UpdateBuffer <= 0 {
		return fmt.Errorf("channels.update_buffer must be greater than 0")
	}

	if cfg.Stream.URL == "" {
		return fmt.Errorf("stream.url is required")
	}
	if len(cfg.Stream.Symbols) == 0 {
		return fmt.Errorf("stream.symbols must not be empty")
	}
	if cfg.Stream.ReconnectDelayMs <= 0 {
		return fmt.Errorf("stream.reconnect_delay_ms must be greater than 0")
	}

	return nil
}
