// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/debrider/internal/buildinfo"
	"github.com/autobrr/debrider/internal/services/resolver"
)

type HealthHandler struct {
	resolver *resolver.Service
}

func NewHealthHandler(resolverService *resolver.Service) *HealthHandler {
	return &HealthHandler{resolver: resolverService}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.GetHealth)
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        buildinfo.Version,
		"activeSearches": h.resolver.ActiveSearches(),
	})
}
