// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/debrider/internal/config"
	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/domain"
	"github.com/autobrr/debrider/internal/services/resolver"
	"github.com/autobrr/debrider/internal/torznab"
)

func newTestServer(baseURL string) *Server {
	client := debrid.NewClient(debrid.ClientOptions{})
	caches := debrid.NewCaches(debrid.CacheTTLs{})
	provider := torznab.NewClient("http://localhost:9117", "", 0)
	service := resolver.NewService(provider, client, caches, resolver.Options{})

	return NewServer(&Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{BaseURL: baseURL},
		},
		ResolverService: service,
		DebridClient:    client,
		Caches:          caches,
	})
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()

	handler := newTestServer("").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandlerBaseURL(t *testing.T) {
	t.Parallel()

	handler := newTestServer("/debrider/").Handler()

	req := httptest.NewRequest(http.MethodGet, "/debrider/api/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Root-level path is not served when a base URL is set.
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerCancelEndpoint(t *testing.T) {
	t.Parallel()

	handler := newTestServer("").Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/search/some-id/cancel", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
