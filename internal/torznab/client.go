// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package torznab queries a Jackett style aggregate Torznab endpoint and
// turns the XML feed into search candidates keyed by content hash.
package torznab

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/moistari/rls"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/bencode"

	"github.com/autobrr/debrider/internal/buildinfo"
	"github.com/autobrr/debrider/pkg/hashutil"
)

const aggregateSearchPath = "/api/v2.0/indexers/all/results/torznab/api"

var infohashPattern = regexp.MustCompile(`urn:btih:([A-Fa-f0-9]{32,40})`)

// Candidate is one release from the search provider. InfoHash is the
// dedup key; Magnet is the locator handed to the remote service on
// registration.
type Candidate struct {
	Title      string
	InfoHash   string
	Magnet     string
	Size       int64
	Seeders    int
	Leechers   int
	Categories []string
	Release    rls.Release
}

// Client talks to one Jackett instance's aggregate endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			// Torrent download links may redirect to a magnet URI, which
			// the default client cannot follow. Capture it instead.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.URL.Scheme == "magnet" {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Search queries the aggregate endpoint and returns candidates that carry a
// usable content hash, along with the time the whole search took.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Candidate, time.Duration, error) {
	start := time.Now()

	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("t", "search")
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	searchURL := c.baseURL + aggregateSearchPath + "?" + params.Encode()

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
			if err != nil {
				return err
			}
			req.Header.Set("User-Agent", buildinfo.UserAgent)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return errors.Errorf("search returned status %d", resp.StatusCode)
			}

			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Attempts(2),
		retry.Delay(2*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, time.Since(start), errors.Wrapf(err, "jackett search %q", query)
	}

	candidates, err := c.parseFeed(ctx, body)
	if err != nil {
		return nil, time.Since(start), err
	}

	return candidates, time.Since(start), nil
}

type feed struct {
	Channel struct {
		Items []feedItem `xml:"item"`
	} `xml:"channel"`
}

type feedItem struct {
	Title string     `xml:"title"`
	Link  string     `xml:"link"`
	Size  int64      `xml:"size"`
	Attrs []feedAttr `xml:"attr"`
}

type feedAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (c *Client) parseFeed(ctx context.Context, body []byte) ([]Candidate, error) {
	var parsed feed
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "parse torznab feed")
	}

	candidates := make([]Candidate, 0, len(parsed.Channel.Items))
	for _, item := range parsed.Channel.Items {
		candidate, ok := c.itemToCandidate(ctx, item)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

func (c *Client) itemToCandidate(ctx context.Context, item feedItem) (Candidate, bool) {
	attrs := make(map[string]string, len(item.Attrs))
	var categories []string
	for _, attr := range item.Attrs {
		if attr.Name == "category" {
			categories = append(categories, attr.Value)
			continue
		}
		attrs[attr.Name] = attr.Value
	}

	// 1337x download links require a browser challenge and never resolve.
	if strings.Contains(item.Link, "1337x") {
		return Candidate{}, false
	}

	candidate := Candidate{
		Title:      item.Title,
		Size:       item.Size,
		Seeders:    atoiOrZero(attrs["seeders"]),
		Leechers:   atoiOrZero(attrs["peers"]),
		Categories: categories,
	}

	hash, magnet := c.resolveInfoHash(ctx, item, attrs)
	if hash == "" {
		log.Debug().Str("title", item.Title).Msg("Skipping result without resolvable infohash")
		return Candidate{}, false
	}
	if !hashutil.IsValid(hash) {
		log.Debug().Str("title", item.Title).Str("infohash", hash).Msg("Skipping result with malformed infohash")
		return Candidate{}, false
	}
	if item.Size <= 0 {
		log.Debug().Str("title", item.Title).Msg("Skipping result without size")
		return Candidate{}, false
	}

	candidate.InfoHash = hashutil.Normalize(hash)
	candidate.Magnet = magnet
	if candidate.Magnet == "" {
		candidate.Magnet = fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s",
			candidate.InfoHash, url.QueryEscape(item.Title))
	}
	candidate.Release = rls.ParseString(item.Title)

	return candidate, true
}

// resolveInfoHash tries, in order: a magnet link, an explicit torznab
// infohash attribute, and finally downloading the .torrent file and hashing
// its info dictionary.
func (c *Client) resolveInfoHash(ctx context.Context, item feedItem, attrs map[string]string) (hash, magnet string) {
	if strings.HasPrefix(item.Link, "magnet:") {
		if m := infohashPattern.FindStringSubmatch(item.Link); m != nil {
			return m[1], item.Link
		}
		return "", ""
	}

	if h, ok := attrs["infohash"]; ok && h != "" {
		return h, ""
	}

	if item.Link == "" {
		return "", ""
	}

	h, m, err := c.infoHashFromTorrentURL(ctx, item.Link)
	if err != nil {
		log.Debug().Err(err).Str("title", item.Title).Msg("Failed to resolve infohash from torrent file")
		return "", ""
	}
	return h, m
}

func (c *Client) infoHashFromTorrentURL(ctx context.Context, torrentURL string) (hash, magnet string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, torrentURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	// Some indexers answer the download link with a redirect to a magnet.
	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
		location := resp.Header.Get("Location")
		if m := infohashPattern.FindStringSubmatch(location); m != nil {
			return m[1], location, nil
		}
		return "", "", errors.New("redirect without magnet infohash")
	}

	if resp.StatusCode != http.StatusOK {
		return "", "", errors.Errorf("torrent download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", "", err
	}

	h, err := infoHashFromTorrent(data)
	if err != nil {
		return "", "", err
	}
	return h, "", nil
}

// infoHashFromTorrent computes the SHA-1 of the raw bencoded info dictionary.
func infoHashFromTorrent(data []byte) (string, error) {
	var meta struct {
		Info bencode.RawMessage `bencode:"info"`
	}
	if err := bencode.DecodeBytes(data, &meta); err != nil {
		return "", errors.Wrap(err, "decode torrent file")
	}
	if len(meta.Info) == 0 {
		return "", errors.New("torrent file has no info dictionary")
	}

	sum := sha1.Sum(meta.Info)
	return hex.EncodeToString(sum[:]), nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
