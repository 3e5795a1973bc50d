package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/marketlab/go/internal/experiment/orchestrator"
	"github.com/mcdev12/marketlab/go/internal/experiment/outbox"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file. Process level settings such as
// ports and credentials come from the environment instead.
type Config struct {
	Defaults map[models.GameKind]models.SessionConfig `yaml:"defaults"`

	Orchestrator struct {
		TickIntervalMS     int `yaml:"tick_interval_ms"`
		AwayAfterSec       int `yaml:"away_after_sec"`
		RetainCompletedSec int `yaml:"retain_completed_sec"`
		InboxSize          int `yaml:"inbox_size"`
	} `yaml:"orchestrator"`

	Advisor struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"advisor"`

	Outbox struct {
		PollIntervalSec int    `yaml:"poll_interval_sec"`
		BatchSize       int    `yaml:"batch_size"`
		MaxRetries      int    `yaml:"max_retries"`
		NotifyChannel   string `yaml:"notify_channel"`
	} `yaml:"outbox"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path. A missing file yields an empty configuration.
func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config file not found, using built-in defaults")
		return &config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for game, d := range config.Defaults {
		d.Game = game
		config.Defaults[game] = d
	}
	return &config, nil
}

// applyDefaults fills a requested session configuration from the defaults of
// its game. Requests without a game use the pricing defaults.
func (c *Config) applyDefaults(cfg models.SessionConfig) models.SessionConfig {
	game := cfg.Game
	if game == "" {
		game = models.GamePricing
	}
	d, ok := c.Defaults[game]
	if !ok {
		return cfg
	}
	return cfg.WithDefaults(d)
}

func (c *Config) orchestratorOptions() orchestrator.Options {
	opts := orchestrator.DefaultOptions()
	o := c.Orchestrator
	if o.TickIntervalMS > 0 {
		opts.TickInterval = time.Duration(o.TickIntervalMS) * time.Millisecond
	}
	if o.AwayAfterSec > 0 {
		opts.AwayAfter = time.Duration(o.AwayAfterSec) * time.Second
	}
	if o.RetainCompletedSec > 0 {
		opts.RetainCompleted = time.Duration(o.RetainCompletedSec) * time.Second
	}
	if o.InboxSize > 0 {
		opts.InboxSize = o.InboxSize
	}
	if c.Advisor.TimeoutMS > 0 {
		opts.AdvisorTimeout = time.Duration(c.Advisor.TimeoutMS) * time.Millisecond
	}
	return opts
}

func (c *Config) outboxConfig() outbox.Config {
	cfg := outbox.DefaultConfig()
	if c.Outbox.PollIntervalSec > 0 {
		cfg.PollInterval = time.Duration(c.Outbox.PollIntervalSec) * time.Second
	}
	if c.Outbox.BatchSize > 0 {
		cfg.BatchSize = c.Outbox.BatchSize
	}
	if c.Outbox.MaxRetries > 0 {
		cfg.MaxRetries = c.Outbox.MaxRetries
	}
	return cfg
}

func (c *Config) notifyChannel() string {
	if c.Outbox.NotifyChannel != "" {
		return c.Outbox.NotifyChannel
	}
	return outbox.DefaultNotifyChannel
}
