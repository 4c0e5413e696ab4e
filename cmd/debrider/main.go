// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/debrider/internal/api"
	"github.com/autobrr/debrider/internal/buildinfo"
	"github.com/autobrr/debrider/internal/config"
	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/domain"
	"github.com/autobrr/debrider/internal/logger"
	"github.com/autobrr/debrider/internal/services/resolver"
	"github.com/autobrr/debrider/internal/torznab"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "debrider",
		Short: "Resolve torrent searches into playable download links",
		Long: `debrider - searches a Jackett instance and resolves the results into
directly playable download links through a debrid service.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configPath string
		logPath    string
	)

	command := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configPath, "config", "", "config directory or direct path to a config.toml")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stderr)")

	command.Run = func(cmd *cobra.Command, args []string) {
		runServer(configPath, logPath)
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.String())
		},
	}
}

func runServer(configPath, logPath string) {
	cfg, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if logPath != "" {
		cfg.Config.LogPath = logPath
	}

	if err := logger.Setup(cfg.Config); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	if err := cfg.Config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().Str("version", buildinfo.Version).Msg("Starting debrider")

	if !cfg.Config.HasDebridCredentials() {
		log.Warn().Msg("No debrid API key configured, searches will fail until one is set")
	}

	debridClient := debrid.NewClient(debrid.ClientOptions{
		APIKey:      cfg.Config.DebridAPIKey,
		BaseURL:     cfg.Config.DebridURL,
		Timeout:     time.Duration(cfg.Config.DebridTimeoutSeconds) * time.Second,
		MinInterval: cfg.Config.MinRequestInterval(),
	})

	caches := debrid.NewCaches(debrid.CacheTTLs{
		Account: time.Duration(cfg.Config.AccountCacheTTL) * time.Second,
		Detail:  time.Duration(cfg.Config.DetailCacheTTL) * time.Second,
		Listing: time.Duration(cfg.Config.ListingCacheTTL) * time.Second,
	})

	searchClient := torznab.NewClient(
		cfg.Config.JackettURL,
		cfg.Config.JackettAPIKey,
		time.Duration(cfg.Config.JackettTimeoutSeconds)*time.Second,
	)

	resolverService := resolver.NewService(searchClient, debridClient, caches, resolver.Options{
		CandidateWorkers:  cfg.Config.CandidateWorkers,
		PollInterval:      cfg.Config.PollInterval(),
		PollTimeout:       cfg.Config.PollTimeout(),
		UnrestrictWorkers: cfg.Config.UnrestrictWorkers,
	})

	server := api.NewServer(&api.Dependencies{
		Config:          cfg,
		ResolverService: resolverService,
		DebridClient:    debridClient,
		Caches:          caches,
	})

	cfg.DynamicReload(func(updated *domain.Config) {
		logger.SetLogLevel(updated.LogLevel)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}
