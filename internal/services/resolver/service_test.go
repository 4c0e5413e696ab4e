// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moistari/rls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/torznab"
)

var magnetHashPattern = regexp.MustCompile(`urn:btih:([a-fA-F0-9]{40})`)

// fakeRemote is an in-memory stand-in for the remote cache/download service.
type fakeRemote struct {
	mu       sync.Mutex
	nextID   int
	torrents map[string]*debrid.Torrent

	// listing returned to ListTorrents, the "releases the user already had".
	preExisting []debrid.Torrent

	// hash -> status the torrent jumps to after file selection, instead of
	// downloaded.
	statusAfterSelect map[string]string

	// hash -> total cached bytes reported by the instant availability
	// endpoint. Hashes not present are reported as uncached.
	cachedBytes map[string]int64

	registered []string
	deleted    []string

	server *httptest.Server
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()

	f := &fakeRemote{
		torrents:          make(map[string]*debrid.Torrent),
		statusAfterSelect: make(map[string]string),
		cachedBytes:       make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /torrents/addMagnet", f.handleAddMagnet)
	mux.HandleFunc("GET /torrents/info/{id}", f.handleInfo)
	mux.HandleFunc("POST /torrents/selectFiles/{id}", f.handleSelectFiles)
	mux.HandleFunc("DELETE /torrents/delete/{id}", f.handleDelete)
	mux.HandleFunc("GET /torrents", f.handleList)
	mux.HandleFunc("GET /torrents/instantAvailability/{hashes...}", f.handleAvailability)
	mux.HandleFunc("POST /unrestrict/link", f.handleUnrestrict)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeRemote) addPreExisting(torrent debrid.Torrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preExisting = append(f.preExisting, torrent)
	copied := torrent
	f.torrents[torrent.ID] = &copied
}

func (f *fakeRemote) registeredHashes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registered...)
}

func (f *fakeRemote) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeRemote) handleAddMagnet(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	m := magnetHashPattern.FindStringSubmatch(r.PostForm.Get("magnet"))
	if m == nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"magnet_error","error_code":1}`)
		return
	}
	hash := strings.ToLower(m[1])

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("NEW%d", f.nextID)
	f.registered = append(f.registered, hash)
	f.torrents[id] = &debrid.Torrent{
		ID:     id,
		Hash:   hash,
		Status: debrid.StatusWaitingSelection,
		Files: []debrid.File{
			{ID: 1, Path: "/release/movie.mkv", Bytes: 1000},
			{ID: 2, Path: "/release/info.nfo", Bytes: 10},
		},
	}
	f.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"id":%q,"uri":"/torrents/info/%s"}`, id, id)
}

func (f *fakeRemote) handleInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	torrent, ok := f.torrents[r.PathValue("id")]
	if !ok {
		f.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	copied := *torrent
	f.mu.Unlock()

	json.NewEncoder(w).Encode(copied)
}

func (f *fakeRemote) handleSelectFiles(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	torrent, ok := f.torrents[r.PathValue("id")]
	if ok {
		if status, dead := f.statusAfterSelect[torrent.Hash]; dead {
			torrent.Status = status
		} else {
			torrent.Status = debrid.StatusDownloaded
			for i := range torrent.Files {
				if strings.HasSuffix(torrent.Files[i].Path, ".mkv") {
					torrent.Files[i].Selected = 1
					torrent.Links = append(torrent.Links,
						fmt.Sprintf("https://remote/%s/%d", torrent.ID, torrent.Files[i].ID))
				}
			}
		}
	}
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	id := r.PathValue("id")
	f.deleted = append(f.deleted, id)
	delete(f.torrents, id)
	f.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) handleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("page") != "1" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	f.mu.Lock()
	listing := append([]debrid.Torrent(nil), f.preExisting...)
	f.mu.Unlock()

	json.NewEncoder(w).Encode(listing)
}

func (f *fakeRemote) handleAvailability(w http.ResponseWriter, r *http.Request) {
	response := make(map[string]any)

	f.mu.Lock()
	for _, hash := range strings.Split(r.PathValue("hashes"), "/") {
		bytes, ok := f.cachedBytes[hash]
		if !ok {
			response[hash] = []any{}
			continue
		}
		response[hash] = map[string]any{
			"rd": []any{
				map[string]any{"1": map[string]any{"filename": "movie.mkv", "filesize": bytes}},
			},
		}
	}
	f.mu.Unlock()

	json.NewEncoder(w).Encode(response)
}

func (f *fakeRemote) handleUnrestrict(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	link := r.PostForm.Get("link")
	fmt.Fprintf(w, `{"download":"https://direct/%s","link":%q}`, strings.TrimPrefix(link, "https://remote/"), link)
}

// stubProvider is a canned search provider.
type stubProvider struct {
	candidates []torznab.Candidate
	err        error
	delay      time.Duration
}

func (p *stubProvider) Search(ctx context.Context, query string, limit int) ([]torznab.Candidate, time.Duration, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, time.Millisecond, p.err
	}
	return p.candidates, time.Millisecond, nil
}

func testHash(c byte) string {
	return strings.Repeat(string(c), 40)
}

func candidate(title string, hash string) torznab.Candidate {
	return torznab.Candidate{
		Title:      title,
		InfoHash:   hash,
		Magnet:     "magnet:?xt=urn:btih:" + hash,
		Size:       1000,
		Categories: []string{"2040"},
	}
}

func newTestService(t *testing.T, remote *fakeRemote, provider SearchProvider) *Service {
	t.Helper()

	client := debrid.NewClient(debrid.ClientOptions{
		APIKey:      "test-key",
		BaseURL:     remote.server.URL,
		Timeout:     5 * time.Second,
		MinInterval: time.Millisecond,
	})
	caches := debrid.NewCaches(debrid.CacheTTLs{
		Account: time.Minute,
		Detail:  time.Minute,
		Listing: time.Minute,
	})

	return NewService(provider, client, caches, Options{
		CandidateWorkers:  3,
		PollInterval:      10 * time.Millisecond,
		PollTimeout:       500 * time.Millisecond,
		UnrestrictWorkers: 2,
	})
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()

	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, event)
		case <-timeout:
			t.Fatal("timed out draining event stream")
		}
	}
}

func eventsOfType(events []Event, eventType string) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestSearchDeduplicatesSharedHashes(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	shared := testHash('a')
	provider := &stubProvider{candidates: []torznab.Candidate{
		candidate("Shared.Release.A", shared),
		candidate("Shared.Release.B", shared),
		candidate("Shared.Release.C", shared),
		candidate("Unique.Release.1", testHash('b')),
		candidate("Unique.Release.2", testHash('c')),
	}}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 5))

	require.NotEmpty(t, events)
	assert.Equal(t, EventSearchID, events[0].Type)

	// One registration per distinct hash.
	assert.Len(t, remote.registeredHashes(), 3)

	results := eventsOfType(events, EventResult)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NotNil(t, r.Torrent)
		require.Len(t, r.Torrent.Files, 1)
		assert.Contains(t, r.Torrent.Files[0].PlayableURL, "https://direct/")
	}

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, 3, last.Total)
	assert.GreaterOrEqual(t, last.ElapsedSeconds, 0.0)

	assert.Zero(t, service.ActiveSearches())
}

func TestSearchResultsCarryReleaseMetadata(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	cachedHash := testHash('a')
	uncachedHash := testHash('b')
	remote.cachedBytes[cachedHash] = 1500

	cached := candidate("Warm.Movie.2024.1080p.WEB-DL.x264-GROUP", cachedHash)
	cached.Seeders = 42
	cached.Leechers = 7
	cached.Release = rls.ParseString(cached.Title)

	cold := candidate("Cold.Movie.2023.720p.x264-OTHER", uncachedHash)
	cold.Release = rls.ParseString(cold.Title)

	provider := &stubProvider{candidates: []torznab.Candidate{cached, cold}}
	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 2))

	results := eventsOfType(events, EventResult)
	require.Len(t, results, 2)

	byTitle := make(map[string]*Result, 2)
	for _, r := range results {
		require.NotNil(t, r.Torrent)
		byTitle[r.Torrent.Title] = r.Torrent
	}

	warm := byTitle[cached.Title]
	require.NotNil(t, warm)
	assert.True(t, warm.Cached)
	assert.Equal(t, 42, warm.Seeders)
	assert.Equal(t, 7, warm.Leechers)
	assert.Equal(t, "1080p", warm.Resolution)
	assert.Equal(t, "GROUP", warm.Group)
	assert.Equal(t, 2024, warm.Year)

	chill := byTitle[cold.Title]
	require.NotNil(t, chill)
	assert.False(t, chill.Cached)
	assert.Equal(t, "720p", chill.Resolution)
}

func TestSearchReusesAlreadyRegisteredRelease(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	hash := testHash('d')
	remote.addPreExisting(debrid.Torrent{
		ID:     "PRE1",
		Hash:   hash,
		Status: debrid.StatusDownloaded,
		Files:  []debrid.File{{ID: 1, Path: "/existing/movie.mkv", Bytes: 900, Selected: 1}},
		Links:  []string{"https://remote/PRE1/1"},
	})

	provider := &stubProvider{candidates: []torznab.Candidate{
		candidate("Existing.Release", hash),
	}}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 1))

	// Nothing new registered, yet the candidate still resolves.
	assert.Empty(t, remote.registeredHashes())

	results := eventsOfType(events, EventResult)
	require.Len(t, results, 1)
	assert.Equal(t, "movie.mkv", results[0].Torrent.Files[0].Name)
}

func TestSearchDeletesDeadAutoCreatedRelease(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	badHash := testHash('e')
	remote.statusAfterSelect[badHash] = debrid.StatusVirus

	provider := &stubProvider{candidates: []torznab.Candidate{
		candidate("Infected.Release", badHash),
		candidate("Clean.Release", testHash('f')),
	}}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 2))

	results := eventsOfType(events, EventResult)
	require.Len(t, results, 1)
	assert.Equal(t, "Clean.Release", results[0].Torrent.Title)

	// The infected release was auto-created, so it gets cleaned up.
	require.Len(t, remote.deletedIDs(), 1)

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, 1, last.Total)
}

func TestSearchNeverDeletesPreExistingRelease(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	hash := testHash('1')
	remote.addPreExisting(debrid.Torrent{
		ID:     "PRE2",
		Hash:   hash,
		Status: debrid.StatusVirus,
	})

	provider := &stubProvider{candidates: []torznab.Candidate{
		candidate("Users.Own.Dead.Release", hash),
	}}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 1))

	assert.Empty(t, eventsOfType(events, EventResult))
	// Dead, but not ours to delete.
	assert.Empty(t, remote.deletedIDs())
	assert.Empty(t, remote.registeredHashes())

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, 0, last.Total)
}

func TestSearchCancelledBeforeDispatch(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	provider := &stubProvider{
		delay: 200 * time.Millisecond,
		candidates: []torznab.Candidate{
			candidate("Never.Dispatched", testHash('2')),
		},
	}

	service := newTestService(t, remote, provider)
	stream := service.Stream(context.Background(), "query", 1)

	// Cancel as soon as the id is issued, while the provider is still busy.
	first := <-stream
	require.Equal(t, EventSearchID, first.Type)
	service.Cancel(first.ID)

	events := collectEvents(t, stream)

	assert.Empty(t, remote.registeredHashes())
	require.NotEmpty(t, events)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)
	assert.Empty(t, eventsOfType(events, EventResult))

	assert.Zero(t, service.ActiveSearches())
}

func TestSearchCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	service := newTestService(t, remote, &stubProvider{})

	// Unknown and repeated ids never error.
	service.Cancel("no-such-search")
	service.Cancel("no-such-search")
}

func TestSearchMissingCredentials(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	client := debrid.NewClient(debrid.ClientOptions{BaseURL: remote.server.URL})
	caches := debrid.NewCaches(debrid.CacheTTLs{})
	service := NewService(&stubProvider{}, client, caches, Options{})

	events := collectEvents(t, service.Stream(context.Background(), "query", 5))

	require.Len(t, events, 2)
	assert.Equal(t, EventSearchID, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Message, "API key")
}

func TestSearchProviderFailure(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	provider := &stubProvider{err: errors.New("connection refused")}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 5))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "search provider unreachable")
}

func TestSearchNoCandidates(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	service := newTestService(t, remote, &stubProvider{})

	events := collectEvents(t, service.Stream(context.Background(), "query", 5))

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, 0, last.Total)
}

func TestSearchRegistrationRejected(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	provider := &stubProvider{candidates: []torznab.Candidate{
		{Title: "Broken.Magnet", InfoHash: testHash('3'), Magnet: "magnet:?xt=urn:btih:tooshort", Size: 10},
	}}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 1))

	assert.Empty(t, eventsOfType(events, EventResult))
	// Nothing was created, so nothing is deleted.
	assert.Empty(t, remote.deletedIDs())

	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, 0, last.Total)
}

func TestSyncSearchCollectsResults(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	provider := &stubProvider{candidates: []torznab.Candidate{
		candidate("Sync.Release.1", testHash('4')),
		candidate("Sync.Release.2", testHash('5')),
	}}

	service := newTestService(t, remote, provider)

	result, err := service.Search(context.Background(), "query", 2)
	require.NoError(t, err)
	assert.Len(t, result.Data, 2)
	require.Len(t, result.Timers, 2)
	assert.Equal(t, "Provider Search", result.Timers[0].Script)
}

func TestSyncSearchPropagatesFatalError(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	provider := &stubProvider{err: errors.New("boom")}

	service := newTestService(t, remote, provider)

	_, err := service.Search(context.Background(), "query", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search provider unreachable")
}

func TestStreamTerminalEventIsLastAndUnique(t *testing.T) {
	t.Parallel()

	remote := newFakeRemote(t)
	provider := &stubProvider{candidates: []torznab.Candidate{
		candidate("Terminal.Check", testHash('6')),
	}}

	service := newTestService(t, remote, provider)
	events := collectEvents(t, service.Stream(context.Background(), "query", 1))

	terminal := 0
	for i, e := range events {
		switch e.Type {
		case EventDone, EventCancelled, EventError:
			terminal++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, terminal)
}
