// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultUnrestrictWorkers = 3

// UnrestrictBatch translates a list of remote links over a bounded worker
// pool. Results land in a pre-sized slot array so output[i] always
// corresponds to links[i] no matter which worker finishes first. A failed
// item leaves a nil slot; it never fails the batch.
func (c *Client) UnrestrictBatch(ctx context.Context, links []string, workers int) []*UnrestrictedLink {
	results := make([]*UnrestrictedLink, len(links))
	if len(links) == 0 {
		return results
	}

	if workers <= 0 {
		workers = DefaultUnrestrictWorkers
	}
	if workers > len(links) {
		workers = len(links)
	}

	type job struct {
		idx  int
		link string
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := c.Clone()
			for j := range jobs {
				unrestricted, err := worker.Unrestrict(ctx, j.link)
				if err != nil {
					log.Debug().Err(err).Str("link", j.link).Msg("Failed to unrestrict link, dropping from batch")
					continue
				}
				results[j.idx] = unrestricted
			}
		}()
	}

	for i, link := range links {
		if link == "" {
			continue
		}
		select {
		case jobs <- job{idx: i, link: link}:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()

	return results
}
