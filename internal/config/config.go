// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/debrider/internal/domain"
)

const envPrefix = "DEBRIDER__"

var configTemplate = `# config.toml

# Hostname / IP
#
host = "{{ .host }}"

# Port
#
port = 8181

# Base url
# Set custom baseUrl eg /debrider/ to serve in subdirectory.
# Not needed for subdomain, or by accessing with the :port directly.
#
#baseUrl = "/debrider/"

# Log level
#
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
#
logLevel = "DEBUG"

# Log path
#
# Optional. Logs to stderr when empty.
#
#logPath = "log/debrider.log"

# Jackett (or any Torznab aggregator with a compatible results API)
#
jackettUrl = "http://localhost:9117"
#jackettApiKey = ""

# Debrid service API key. Searches fail with a stream error until this is set.
#
#debridApiKey = ""
`

// AppConfig owns the loaded configuration and keeps it fresh on file changes.
type AppConfig struct {
	Config *domain.Config
	m      sync.Mutex

	configPath string
}

// New loads the configuration from configPath (a directory or a config.toml),
// creating a default file when none exists.
func New(configPath, version string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{
			Version:       version,
			Host:          "localhost",
			Port:          8181,
			LogLevel:      "DEBUG",
			LogMaxSize:    50,
			LogMaxBackups: 3,
		},
	}

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	c.Config.ApplyDefaults()

	return c, nil
}

func (c *AppConfig) load(configPath string) error {
	viper.SetConfigType("toml")

	if configPath != "" {
		if filepath.Ext(configPath) != ".toml" {
			configPath = filepath.Join(configPath, "config.toml")
		}
		configPath, err := filepath.Abs(configPath)
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
		}

		c.configPath = configPath
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/debrider")
	}

	c.bindEnvs()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config read error: %w", err)
		}
	}

	if err := viper.Unmarshal(c.Config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// bindEnvs maps DEBRIDER__FOO_BAR env vars onto config keys so containers can
// run without a config file.
func (c *AppConfig) bindEnvs() {
	for key, env := range map[string]string{
		"host":          "HOST",
		"port":          "PORT",
		"baseUrl":       "BASE_URL",
		"logLevel":      "LOG_LEVEL",
		"logPath":       "LOG_PATH",
		"jackettUrl":    "JACKETT_URL",
		"jackettApiKey": "JACKETT_API_KEY",
		"debridApiKey":  "DEBRID_API_KEY",
		"debridUrl":     "DEBRID_URL",
	} {
		if err := viper.BindEnv(key, envPrefix+env); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to bind env var")
		}
	}
}

func (c *AppConfig) writeDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	host := "127.0.0.1"
	if _, err := os.Stat("/.dockerenv"); err == nil {
		host = "0.0.0.0"
	}

	content := strings.ReplaceAll(configTemplate, "{{ .host }}", host)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	log.Info().Str("path", configPath).Msg("Wrote default config file")
	return nil
}

// DynamicReload re-reads the reloadable settings when the config file changes
// on disk and notifies onChange with the updated config. Connection settings
// require a restart.
func (c *AppConfig) DynamicReload(onChange func(*domain.Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		c.m.Lock()

		logLevel := viper.GetString("logLevel")
		if logLevel != "" {
			c.Config.LogLevel = logLevel
		}

		cfg := c.Config
		c.m.Unlock()

		log.Debug().Str("file", e.Name).Msg("Config file changed, reloaded dynamic settings")

		if onChange != nil {
			onChange(cfg)
		}
	})
	viper.WatchConfig()
}
