// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package resolver coordinates the search provider and the remote
// cache/download service into one pipeline: deduplicate candidates against
// the remote listing, register what is new, wait for readiness, translate
// links, and emit live progress as an ordered, cancellable event stream.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/torznab"
)

// SearchProvider is the candidate source, satisfied by *torznab.Client.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]torznab.Candidate, time.Duration, error)
}

// Service runs searches end to end. One Service is shared by all requests.
type Service struct {
	provider SearchProvider
	client   *debrid.Client
	caches   *debrid.Caches
	registry *Registry

	candidateWorkers int
	pipelineOpts     PipelineOptions
}

type Options struct {
	CandidateWorkers  int
	PollInterval      time.Duration
	PollTimeout       time.Duration
	UnrestrictWorkers int
}

func NewService(provider SearchProvider, client *debrid.Client, caches *debrid.Caches, opts Options) *Service {
	if opts.CandidateWorkers <= 0 {
		opts.CandidateWorkers = 4
	}

	return &Service{
		provider: provider,
		client:   client,
		caches:   caches,
		registry: NewRegistry(),

		candidateWorkers: opts.CandidateWorkers,
		pipelineOpts: PipelineOptions{
			PollInterval:      opts.PollInterval,
			PollTimeout:       opts.PollTimeout,
			UnrestrictWorkers: opts.UnrestrictWorkers,
		},
	}
}

// Cancel flags a search for cooperative cancellation. Idempotent; unknown
// ids are a no-op.
func (s *Service) Cancel(searchID string) {
	s.registry.Cancel(searchID)
}

// ActiveSearches returns the number of searches currently running.
func (s *Service) ActiveSearches() int {
	return s.registry.Active()
}

// Stream starts a search and returns its event channel. The channel is
// closed after the terminal event (done, cancelled or error).
func (s *Service) Stream(ctx context.Context, query string, limit int) <-chan Event {
	search := s.registry.Begin()
	events := make(chan Event, 16)

	go s.run(ctx, search, query, limit, events)

	return events
}

func (s *Service) run(ctx context.Context, search *ActiveSearch, query string, limit int, events chan<- Event) {
	defer close(events)
	defer s.registry.Remove(search.ID)

	start := time.Now()
	emit(ctx, events, searchIDEvent(search.ID))

	fatal := func(message string) {
		log.Error().Str("searchID", search.ID).Str("query", query).Msg(message)
		emit(ctx, events, errorEvent(message))
	}

	if !s.client.HasCredentials() {
		fatal("debrid API key is not configured")
		return
	}

	emit(ctx, events, progressEvent("Searching", fmt.Sprintf("Querying search provider for %q", query), 0, 0))

	candidates, searchElapsed, err := s.provider.Search(ctx, query, limit)
	if err != nil {
		fatal(fmt.Sprintf("search provider unreachable: %v", err))
		return
	}

	unique := Unique(candidates)
	total := len(unique)

	log.Debug().
		Str("searchID", search.ID).
		Str("query", query).
		Int("candidates", len(candidates)).
		Int("unique", total).
		Dur("elapsed", searchElapsed).
		Msg("Search provider returned candidates")

	emit(ctx, events, progressEvent("Search complete",
		fmt.Sprintf("%d candidates (%d unique) in %.2fs", len(candidates), total, searchElapsed.Seconds()), 0, total))

	if total == 0 {
		emit(ctx, events, doneEvent(0, roundSeconds(time.Since(start))))
		return
	}

	emit(ctx, events, progressEvent("Checking account", "Loading existing releases", 0, total))

	listing, err := s.caches.Listing(ctx, s.client)
	if err != nil {
		fatal(fmt.Sprintf("listing remote releases failed: %v", err))
		return
	}
	dedup := NewDeduplicator(listing)

	// Cache lookup is best-effort: a failed check only loses the cached
	// annotation, never the result.
	hashes := make([]string, 0, total)
	for _, c := range unique {
		hashes = append(hashes, c.InfoHash)
	}
	availability, err := s.client.CheckAvailability(ctx, hashes)
	if err != nil {
		log.Debug().Err(err).Str("searchID", search.ID).Msg("Instant availability check failed, results will be unannotated")
		availability = debrid.AvailabilityResponse{}
	}

	var (
		wg          sync.WaitGroup
		resultCount atomic.Int32
		processed   atomic.Int32
	)
	sem := make(chan struct{}, s.candidateWorkers)

	for _, candidate := range unique {
		// Cancellation is cooperative: checked between dispatches, never
		// preempting work already handed to a worker.
		if search.Cancelled() || ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		// Recheck after waiting for a slot; a cancel may have landed while
		// the pool was full.
		if search.Cancelled() || ctx.Err() != nil {
			<-sem
			break
		}
		wg.Add(1)

		go func(c torznab.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()

			existingID, _ := dedup.Resolve(c.InfoHash)
			pipeline := NewPipeline(s.client.Clone(), s.caches, s.pipelineOpts)

			result, err := pipeline.Process(ctx, c, existingID)
			current := int(processed.Add(1))

			if err != nil {
				var skipErr *SkipError
				switch {
				case errors.As(err, &skipErr):
					log.Debug().Str("searchID", search.ID).Str("title", c.Title).Str("reason", skipErr.Reason).Msg("Candidate skipped")
					emit(ctx, events, progressEvent("Processing", fmt.Sprintf("Skipped %s: %s", c.Title, skipErr.Reason), current, total))
				case errors.Is(err, context.Canceled):
				default:
					log.Debug().Err(err).Str("searchID", search.ID).Str("title", c.Title).Msg("Candidate failed")
					emit(ctx, events, progressEvent("Processing", fmt.Sprintf("Skipped %s", c.Title), current, total))
				}
				return
			}

			result.Cached = availability.CachedBytes(c.InfoHash) >= c.Size
			resultCount.Add(1)
			emit(ctx, events, resultEvent(result))
			emit(ctx, events, progressEvent("Processing", fmt.Sprintf("Resolved %s", c.Title), current, total))
		}(candidate)
	}

	wg.Wait()

	if search.Cancelled() || ctx.Err() != nil {
		log.Debug().Str("searchID", search.ID).Msg("Search cancelled")
		emit(ctx, events, cancelledEvent())
		return
	}

	emit(ctx, events, doneEvent(int(resultCount.Load()), roundSeconds(time.Since(start))))
}

// emit delivers an event unless the consumer is gone.
func emit(ctx context.Context, events chan<- Event, event Event) {
	select {
	case events <- event:
	case <-ctx.Done():
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

// StageTimer is one pipeline stage timing in a synchronous search response.
type StageTimer struct {
	Script string  `json:"script"`
	Time   float64 `json:"time"`
}

// SyncResult is the response of a blocking search: all resolved results plus
// per-stage timings.
type SyncResult struct {
	Data   []Result     `json:"data"`
	Timers []StageTimer `json:"timers"`
}

// Search runs a search to completion and returns the collected results. The
// blocking counterpart of Stream, used by the non-streaming endpoint.
func (s *Service) Search(ctx context.Context, query string, limit int) (*SyncResult, error) {
	start := time.Now()

	var (
		results     []Result
		searchStage float64
		fatalErr    error
	)

	for event := range s.Stream(ctx, query, limit) {
		switch event.Type {
		case EventResult:
			if event.Torrent != nil {
				results = append(results, *event.Torrent)
			}
		case EventProgress:
			if event.Stage == "Search complete" && searchStage == 0 {
				searchStage = roundSeconds(time.Since(start))
			}
		case EventError:
			fatalErr = errors.New(event.Message)
		}
	}

	if fatalErr != nil {
		return nil, fatalErr
	}

	return &SyncResult{
		Data: results,
		Timers: []StageTimer{
			{Script: "Provider Search", Time: searchStage},
			{Script: "Link Resolution", Time: roundSeconds(time.Since(start))},
		},
	}, nil
}
