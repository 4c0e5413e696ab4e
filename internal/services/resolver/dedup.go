// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/torznab"
	"github.com/autobrr/debrider/pkg/hashutil"
)

// Deduplicator maps content hashes to already registered release ids. It is
// built once per search from the cached remote listing, so every candidate
// in the search shares one materialization.
type Deduplicator struct {
	byHash map[string]string
}

func NewDeduplicator(listing []debrid.Torrent) *Deduplicator {
	byHash := make(map[string]string, len(listing))
	for _, t := range listing {
		hash := hashutil.Normalize(t.Hash)
		if hash == "" || t.ID == "" {
			continue
		}
		// Keep the first id seen for a hash; duplicates in the remote
		// account point at the same content.
		if _, ok := byHash[hash]; !ok {
			byHash[hash] = t.ID
		}
	}
	return &Deduplicator{byHash: byHash}
}

// Resolve returns the remote id already registered for the hash, if any.
func (d *Deduplicator) Resolve(hash string) (string, bool) {
	id, ok := d.byHash[hashutil.Normalize(hash)]
	return id, ok
}

// Unique collapses candidates sharing a content hash down to their first
// occurrence, preserving input order. This keeps registrations to at most
// one per distinct hash per search.
func Unique(candidates []torznab.Candidate) []torznab.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]torznab.Candidate, 0, len(candidates))
	for _, c := range candidates {
		hash := hashutil.Normalize(c.InfoHash)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, c)
	}
	return out
}
