// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/sync/singleflight"
)

const (
	accountCacheKey = "account"
	listingCacheKey = "listing"
)

// Caches holds the short-lived snapshots of remote state: the account, the
// per-torrent detail, and the full listing. Each cache has its own TTL and
// its own lock, and refreshes on a miss are shared across concurrent callers
// through singleflight so the remote service sees one request per miss.
type Caches struct {
	account *ttlcache.Cache[string, *AccountInfo]
	detail  *ttlcache.Cache[string, *Torrent]
	listing *ttlcache.Cache[string, []Torrent]

	group singleflight.Group
}

type CacheTTLs struct {
	Account time.Duration
	Detail  time.Duration
	Listing time.Duration
}

func NewCaches(ttls CacheTTLs) *Caches {
	if ttls.Account <= 0 {
		ttls.Account = 5 * time.Minute
	}
	if ttls.Detail <= 0 {
		ttls.Detail = 5 * time.Minute
	}
	if ttls.Listing <= 0 {
		ttls.Listing = time.Minute
	}

	return &Caches{
		account: ttlcache.New(ttlcache.Options[string, *AccountInfo]{}.
			SetDefaultTTL(ttls.Account)),
		detail: ttlcache.New(ttlcache.Options[string, *Torrent]{}.
			SetDefaultTTL(ttls.Detail)),
		listing: ttlcache.New(ttlcache.Options[string, []Torrent]{}.
			SetDefaultTTL(ttls.Listing)),
	}
}

// Account returns the cached account snapshot, refreshing it through client
// on a miss.
func (c *Caches) Account(ctx context.Context, client *Client) (*AccountInfo, error) {
	if cached, found := c.account.Get(accountCacheKey); found {
		return cached, nil
	}

	v, err, _ := c.group.Do(accountCacheKey, func() (any, error) {
		account, err := client.GetAccountInfo(ctx)
		if err != nil {
			return nil, err
		}
		c.account.Set(accountCacheKey, account, ttlcache.DefaultTTL)
		return account, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AccountInfo), nil
}

// TorrentDetail returns the cached detail snapshot for a torrent, refreshing
// it on a miss. Concurrent candidates polling the same torrent share one
// in-flight request instead of each hitting the remote service.
func (c *Caches) TorrentDetail(ctx context.Context, client *Client, torrentID string) (*Torrent, error) {
	if cached, found := c.detail.Get(torrentID); found {
		return cached, nil
	}

	v, err, _ := c.group.Do("detail:"+torrentID, func() (any, error) {
		info, err := client.GetTorrentInfo(ctx, torrentID)
		if err != nil {
			return nil, err
		}
		c.detail.Set(torrentID, info, ttlcache.DefaultTTL)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Torrent), nil
}

// InvalidateTorrentDetail drops the cached snapshot so the next poll fetches
// fresh status.
func (c *Caches) InvalidateTorrentDetail(torrentID string) {
	c.detail.Delete(torrentID)
}

// Listing returns the cached full remote listing, refreshing it on a miss.
func (c *Caches) Listing(ctx context.Context, client *Client) ([]Torrent, error) {
	if cached, found := c.listing.Get(listingCacheKey); found {
		return cached, nil
	}

	v, err, _ := c.group.Do(listingCacheKey, func() (any, error) {
		torrents, err := client.ListTorrents(ctx)
		if err != nil {
			return nil, err
		}
		c.listing.Set(listingCacheKey, torrents, ttlcache.DefaultTTL)
		return torrents, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Torrent), nil
}

// InvalidateListing drops the cached listing, used after registrations and
// deletes change the account's contents.
func (c *Caches) InvalidateListing() {
	c.listing.Delete(listingCacheKey)
}
