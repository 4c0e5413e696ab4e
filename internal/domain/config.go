// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	// Search provider (Torznab/Jackett aggregator)
	JackettURL            string `toml:"jackettUrl" mapstructure:"jackettUrl"`
	JackettAPIKey         string `toml:"jackettApiKey" mapstructure:"jackettApiKey"`
	JackettTimeoutSeconds int    `toml:"jackettTimeoutSeconds" mapstructure:"jackettTimeoutSeconds"`

	// Remote cache/download service
	DebridAPIKey         string `toml:"debridApiKey" mapstructure:"debridApiKey"`
	DebridURL            string `toml:"debridUrl" mapstructure:"debridUrl"`
	DebridTimeoutSeconds int    `toml:"debridTimeoutSeconds" mapstructure:"debridTimeoutSeconds"`

	// Cache TTLs, seconds. The listing TTL is deliberately short because the
	// listing drives duplicate detection.
	AccountCacheTTL int `toml:"accountCacheTtl" mapstructure:"accountCacheTtl"`
	DetailCacheTTL  int `toml:"detailCacheTtl" mapstructure:"detailCacheTtl"`
	ListingCacheTTL int `toml:"listingCacheTtl" mapstructure:"listingCacheTtl"`

	// Pipeline tuning
	MinRequestIntervalMs int `toml:"minRequestIntervalMs" mapstructure:"minRequestIntervalMs"`
	CandidateWorkers     int `toml:"candidateWorkers" mapstructure:"candidateWorkers"`
	UnrestrictWorkers    int `toml:"unrestrictWorkers" mapstructure:"unrestrictWorkers"`
	PollIntervalSeconds  int `toml:"pollIntervalSeconds" mapstructure:"pollIntervalSeconds"`
	PollTimeoutSeconds   int `toml:"pollTimeoutSeconds" mapstructure:"pollTimeoutSeconds"`
}

const (
	DefaultAccountCacheTTL = 300
	DefaultDetailCacheTTL  = 300
	DefaultListingCacheTTL = 60

	DefaultMinRequestIntervalMs = 200
	DefaultCandidateWorkers     = 4
	DefaultUnrestrictWorkers    = 3
	DefaultPollIntervalSeconds  = 3
	DefaultPollTimeoutSeconds   = 120
)

// ApplyDefaults fills zero-valued tuning knobs with their defaults so a
// minimal config file stays minimal.
func (c *Config) ApplyDefaults() {
	if c.AccountCacheTTL <= 0 {
		c.AccountCacheTTL = DefaultAccountCacheTTL
	}
	if c.DetailCacheTTL <= 0 {
		c.DetailCacheTTL = DefaultDetailCacheTTL
	}
	if c.ListingCacheTTL <= 0 {
		c.ListingCacheTTL = DefaultListingCacheTTL
	}
	if c.MinRequestIntervalMs <= 0 {
		c.MinRequestIntervalMs = DefaultMinRequestIntervalMs
	}
	if c.CandidateWorkers <= 0 {
		c.CandidateWorkers = DefaultCandidateWorkers
	}
	if c.UnrestrictWorkers <= 0 {
		c.UnrestrictWorkers = DefaultUnrestrictWorkers
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.PollTimeoutSeconds <= 0 {
		c.PollTimeoutSeconds = DefaultPollTimeoutSeconds
	}
	if c.JackettTimeoutSeconds <= 0 {
		c.JackettTimeoutSeconds = 30
	}
	if c.DebridTimeoutSeconds <= 0 {
		c.DebridTimeoutSeconds = 30
	}
}

// Validate checks settings the server cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JackettURL) == "" {
		return errors.New("jackettUrl is required")
	}
	if _, err := url.Parse(c.JackettURL); err != nil {
		return fmt.Errorf("invalid jackettUrl %q: %w", c.JackettURL, err)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// HasDebridCredentials reports whether a debrid API key is configured.
// The server still starts without one; searches fail fast with a stream-level
// error instead.
func (c *Config) HasDebridCredentials() bool {
	return strings.TrimSpace(c.DebridAPIKey) != ""
}

func (c *Config) MinRequestInterval() time.Duration {
	return time.Duration(c.MinRequestIntervalMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutSeconds) * time.Second
}
