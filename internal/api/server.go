// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/debrider/internal/api/handlers"
	"github.com/autobrr/debrider/internal/config"
	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/services/resolver"
)

type Server struct {
	server *http.Server
	logger zerolog.Logger
	config *config.AppConfig

	resolverService *resolver.Service
	debridClient    *debrid.Client
	caches          *debrid.Caches
}

type Dependencies struct {
	Config          *config.AppConfig
	ResolverService *resolver.Service
	DebridClient    *debrid.Client
	Caches          *debrid.Caches
}

func NewServer(deps *Dependencies) *Server {
	return &Server{
		server: &http.Server{
			ReadHeaderTimeout: 15 * time.Second,
			ReadTimeout:       60 * time.Second,
			// Streaming searches stay open well past a normal request.
			WriteTimeout: 0,
			IdleTimeout:  180 * time.Second,
		},
		logger:          log.Logger.With().Str("module", "api").Logger(),
		config:          deps.Config,
		resolverService: deps.ResolverService,
		debridClient:    deps.DebridClient,
		caches:          deps.Caches,
	}
}

func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.config.Config.Host, s.config.Config.Port)

	var lastErr error
	for _, proto := range []string{"tcp", "tcp4", "tcp6"} {
		err := s.tryToServe(addr, proto)
		if err == nil {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) {
			return err
		}

		s.logger.Error().Err(err).Str("addr", addr).Str("proto", proto).Msg("Failed to start server")
		lastErr = err
	}

	return lastErr
}

func (s *Server) tryToServe(addr, protocol string) error {
	listener, err := net.Listen(protocol, addr)
	if err != nil {
		return err
	}

	host := listener.Addr().String()
	if strings.HasPrefix(host, "0.0.0.0:") || strings.HasPrefix(host, "[::]:") {
		host = strings.Replace(host, "0.0.0.0:", "localhost:", 1)
		host = strings.Replace(host, "[::]:", "localhost:", 1)
	}

	s.logger.Info().
		Str("protocol", protocol).
		Str("addr", listener.Addr().String()).
		Msgf("Starting API server - Open: http://%s%s", host, s.config.Config.BaseURL)

	s.server.Handler = s.Handler()

	return s.server.Serve(listener)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	corsMiddleware := cors.New(cors.Options{
		AllowCredentials: true,
		AllowedMethods:   []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowOriginFunc:  func(origin string) bool { return true },
		MaxAge:           300,
	})
	r.Use(corsMiddleware.Handler)

	searchHandler := handlers.NewSearchHandler(s.resolverService)
	accountHandler := handlers.NewAccountHandler(s.debridClient, s.caches)
	healthHandler := handlers.NewHealthHandler(s.resolverService)

	apiRoutes := func(r chi.Router) {
		healthHandler.Routes(r)
		searchHandler.Routes(r)
		accountHandler.Routes(r)
	}

	if base := strings.Trim(s.config.Config.BaseURL, "/"); base != "" {
		r.Route("/"+base, func(r chi.Router) {
			r.Route("/api", apiRoutes)
		})
	} else {
		r.Route("/api", apiRoutes)
	}

	return r
}
