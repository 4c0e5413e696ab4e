// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logger configures the global zerolog logger from the application
// config: level, console vs rotated file output, caller annotation for trace.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/debrider/internal/domain"
)

// Setup applies the configured log level and output to the global logger.
func Setup(cfg *domain.Config) error {
	SetLogLevel(cfg.LogLevel)

	writer := baseWriter(cfg.Version)

	if cfg.LogPath != "" {
		fileWriter, err := fileWriter(cfg.LogPath, cfg.LogMaxSize, cfg.LogMaxBackups)
		if err != nil {
			return err
		}
		writer = io.MultiWriter(writer, fileWriter)
	}

	log.Logger = log.Output(writer).With().Timestamp().Logger()
	return nil
}

// SetLogLevel updates the global level without touching the output, so config
// reloads can change verbosity at runtime.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func baseWriter(version string) io.Writer {
	if version == "" || version == "dev" {
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return os.Stderr
}

func fileWriter(path string, maxSize, maxBackups int) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}, nil
}
