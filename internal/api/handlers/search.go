// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/debrider/internal/services/resolver"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// SearchHandler exposes the resolution pipeline: a streaming search, a
// blocking search and the cancellation endpoint.
type SearchHandler struct {
	resolver *resolver.Service
}

func NewSearchHandler(resolverService *resolver.Service) *SearchHandler {
	return &SearchHandler{resolver: resolverService}
}

func (h *SearchHandler) Routes(r chi.Router) {
	r.Route("/search", func(r chi.Router) {
		r.Post("/", h.Search)
		r.Get("/stream", h.Stream)
		r.Post("/{searchID}/cancel", h.Cancel)
	})
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// Search runs a search to completion and returns all resolved results in one
// response.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		RespondError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := h.resolver.Search(r.Context(), req.Query, clampLimit(req.Limit))
	if err != nil {
		RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// Stream runs a search and delivers its progress as server-sent events. The
// query is read from q, with query accepted as an alias. The stream always
// ends with exactly one terminal event.
func (h *SearchHandler) Stream(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		query = strings.TrimSpace(r.URL.Query().Get("query"))
	}
	if query == "" {
		RespondError(w, http.StatusBadRequest, "query is required")
		return
	}
	limit := clampLimit(QueryInt(r, "limit", defaultSearchLimit))

	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	events := h.resolver.Stream(r.Context(), query, limit)
	for event := range events {
		if err := sendEvent(w, flusher, event); err != nil {
			log.Debug().Err(err).Msg("Search SSE client gone, draining stream")
			// Keep draining so the pipeline can finish and clean up.
			for range events {
			}
			return
		}
	}
}

// Cancel flags a search for cooperative cancellation. Always succeeds, even
// for unknown or already finished ids.
func (h *SearchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	searchID := chi.URLParam(r, "searchID")
	h.resolver.Cancel(searchID)

	RespondJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"id":     searchID,
	})
}

// sendEvent writes one SSE frame: "event: <type>\ndata: <json>\n\n".
func sendEvent(w http.ResponseWriter, flusher http.Flusher, event resolver.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
