// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/pkg/hashutil"
)

// AccountHandler exposes the remote account snapshot and the instant
// availability check.
type AccountHandler struct {
	client *debrid.Client
	caches *debrid.Caches
}

func NewAccountHandler(client *debrid.Client, caches *debrid.Caches) *AccountHandler {
	return &AccountHandler{client: client, caches: caches}
}

func (h *AccountHandler) Routes(r chi.Router) {
	r.Get("/account", h.GetAccount)
	r.Get("/availability", h.CheckAvailability)
}

// GetAccount returns the cached account snapshot.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.caches.Account(r.Context(), h.client)
	if err != nil {
		if errors.Is(err, debrid.ErrUnauthorized) {
			RespondError(w, http.StatusUnauthorized, "debrid API key is missing or invalid")
			return
		}
		log.Error().Err(err).Msg("Failed to fetch account info")
		RespondError(w, http.StatusBadGateway, "failed to fetch account info")
		return
	}

	RespondJSON(w, http.StatusOK, account)
}

type availabilityResponse struct {
	Available map[string]bool `json:"available"`
}

// CheckAvailability reports whether the given content hashes are instantly
// available. Hashes are passed comma-separated in the hashes query param.
func (h *AccountHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("hashes"))
	if raw == "" {
		RespondError(w, http.StatusBadRequest, "hashes is required")
		return
	}

	hashes := hashutil.NormalizeAll(strings.Split(raw, ","))
	if len(hashes) == 0 {
		RespondError(w, http.StatusBadRequest, "hashes is required")
		return
	}

	availability, err := h.client.CheckAvailability(r.Context(), hashes)
	if err != nil {
		if errors.Is(err, debrid.ErrUnauthorized) {
			RespondError(w, http.StatusUnauthorized, "debrid API key is missing or invalid")
			return
		}
		log.Error().Err(err).Msg("Failed to check instant availability")
		RespondError(w, http.StatusBadGateway, "failed to check availability")
		return
	}

	resp := availabilityResponse{Available: make(map[string]bool, len(hashes))}
	for _, hash := range hashes {
		resp.Available[hash] = availability.Available(hash)
	}

	RespondJSON(w, http.StatusOK, resp)
}
