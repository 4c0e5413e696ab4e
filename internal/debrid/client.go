// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debrid talks to a Real-Debrid style remote cache/download service:
// register magnets, select files, poll readiness, unrestrict links and clean
// up. Every outbound call passes through a rate limiter that honors the
// service's advisory backoff.
package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/debrider/internal/buildinfo"
	"github.com/autobrr/debrider/pkg/hashutil"
)

const DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

// ErrRateLimited is returned when an operation exhausts its rate-limit
// retries. Callers treat it as transient for the candidate, not fatal for the
// search.
var ErrRateLimited = errors.New("debrid: rate limited")

// ErrUnauthorized is returned on authentication failures and escalates to a
// stream-level error.
var ErrUnauthorized = errors.New("debrid: invalid or missing API key")

// Client is a rate-limited HTTP client for the remote service.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *Limiter
}

type ClientOptions struct {
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MinInterval time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    NewLimiter(opts.MinInterval),
	}
}

// Clone returns a client that shares the HTTP transport but owns a fresh
// rate limiter, so each pipeline worker is throttled independently.
func (c *Client) Clone() *Client {
	clone := *c
	clone.limiter = NewLimiter(c.limiter.minInterval)
	return &clone
}

// HasCredentials reports whether an API key is configured.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// do runs one rate-limited request. On a 429 it sleeps out the advisory wait
// and retries, giving up after a bounded number of consecutive signals. A
// transport-level failure is retried once behind the limiter before it
// surfaces.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.apiKey == "" {
		return ErrUnauthorized
	}

	rateLimits := 0
	transportRetried := false

	for {
		if err := c.limiter.Throttle(ctx); err != nil {
			return err
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", buildinfo.UserAgent)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && !transportRetried {
				transportRetried = true
				log.Debug().Err(err).Str("path", path).Msg("Transport error calling debrid service, retrying once")
				continue
			}
			return fmt.Errorf("request %s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := ParseAdvisoryWait(resp.Header.Get("Retry-After"))
			resp.Body.Close()

			rateLimits++
			if rateLimits >= maxConsecutiveRateLimits {
				return fmt.Errorf("%w: %s %s", ErrRateLimited, method, path)
			}

			c.limiter.Penalize(wait)
			log.Debug().Str("path", path).Dur("wait", wait).Int("attempt", rateLimits).Msg("Rate limited by debrid service, backing off")
			continue
		}

		return c.handleResponse(resp, method, path, out)
	}
}

func (c *Client) handleResponse(resp *http.Response, method, path string, out any) error {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized

	case resp.StatusCode == http.StatusNoContent:
		return nil

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr APIError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.ErrorMessage != "" {
			return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, &apiErr)
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// AddMagnet registers a magnet link and returns the new torrent's remote id.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (*AddedTorrent, error) {
	magnet = strings.TrimSpace(magnet)
	if magnet == "" {
		return nil, errors.New("magnet is required")
	}

	form := url.Values{}
	form.Set("magnet", magnet)

	var added AddedTorrent
	if err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", form, &added); err != nil {
		return nil, err
	}
	if added.ID == "" {
		return nil, errors.New("add magnet: empty torrent id in response")
	}
	return &added, nil
}

// SelectFiles marks files of a torrent as wanted. Selection is "all" or a
// comma-joined list of file ids.
func (c *Client) SelectFiles(ctx context.Context, torrentID, selection string) error {
	if selection == "" {
		selection = "all"
	}

	form := url.Values{}
	form.Set("files", selection)

	return c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(torrentID), form, nil)
}

// GetTorrentInfo fetches the current detail snapshot of a torrent.
func (c *Client) GetTorrentInfo(ctx context.Context, torrentID string) (*Torrent, error) {
	var t Torrent
	if err := c.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(torrentID), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete removes a torrent from the remote account.
func (c *Client) Delete(ctx context.Context, torrentID string) error {
	return c.do(ctx, http.MethodDelete, "/torrents/delete/"+url.PathEscape(torrentID), nil, nil)
}

// Unrestrict translates a remote link into a direct download URL.
func (c *Client) Unrestrict(ctx context.Context, link string) (*UnrestrictedLink, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, errors.New("link is required")
	}

	form := url.Values{}
	form.Set("link", link)

	var unrestricted UnrestrictedLink
	if err := c.do(ctx, http.MethodPost, "/unrestrict/link", form, &unrestricted); err != nil {
		return nil, err
	}
	return &unrestricted, nil
}

// ListTorrents pages through the full remote listing. The service signals the
// end of the listing with 204 or an empty page.
func (c *Client) ListTorrents(ctx context.Context) ([]Torrent, error) {
	const pageSize = 100

	var all []Torrent
	for page := 1; ; page++ {
		path := fmt.Sprintf("/torrents?page=%d&limit=%d", page, pageSize)

		var batch []Torrent
		if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return all, nil
		}
		all = append(all, batch...)
		if len(batch) < pageSize {
			return all, nil
		}
	}
}

// CheckAvailability asks which of the given content hashes are instantly
// available from cache.
func (c *Client) CheckAvailability(ctx context.Context, hashes []string) (AvailabilityResponse, error) {
	if len(hashes) == 0 {
		return AvailabilityResponse{}, nil
	}

	var availability AvailabilityResponse
	path := "/torrents/instantAvailability/" + strings.Join(hashutil.NormalizeAll(hashes), "/")
	if err := c.do(ctx, http.MethodGet, path, nil, &availability); err != nil {
		return nil, err
	}
	if availability == nil {
		availability = AvailabilityResponse{}
	}
	return availability, nil
}

// GetAccountInfo fetches the remote account snapshot.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var account AccountInfo
	if err := c.do(ctx, http.MethodGet, "/user", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}
