// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package resolver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/debrider/internal/debrid"
	"github.com/autobrr/debrider/internal/torznab"
	"github.com/autobrr/debrider/pkg/mediafile"
)

// SkipError marks a per-candidate terminal outcome. The candidate is
// dropped with a reason; the search continues.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return e.Reason
}

func skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// Pipeline runs the per-candidate state machine: resolve or register, select
// files, await readiness, translate links. It only ever deletes releases it
// created itself.
type Pipeline struct {
	client *debrid.Client
	caches *debrid.Caches

	pollInterval      time.Duration
	pollTimeout       time.Duration
	unrestrictWorkers int
}

type PipelineOptions struct {
	PollInterval      time.Duration
	PollTimeout       time.Duration
	UnrestrictWorkers int
}

func NewPipeline(client *debrid.Client, caches *debrid.Caches, opts PipelineOptions) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 120 * time.Second
	}
	if opts.UnrestrictWorkers <= 0 {
		opts.UnrestrictWorkers = debrid.DefaultUnrestrictWorkers
	}

	return &Pipeline{
		client:            client,
		caches:            caches,
		pollInterval:      opts.PollInterval,
		pollTimeout:       opts.PollTimeout,
		unrestrictWorkers: opts.UnrestrictWorkers,
	}
}

// Process resolves one candidate into a playable result. existingID is the
// release id from the deduplicator, empty when the candidate is not yet
// registered. A *SkipError return means the candidate is dropped but the
// search goes on.
func (p *Pipeline) Process(ctx context.Context, candidate torznab.Candidate, existingID string) (*Result, error) {
	torrentID := existingID
	created := false

	if torrentID == "" {
		added, err := p.client.AddMagnet(ctx, candidate.Magnet)
		if err != nil {
			return nil, skip("registration rejected: %v", err)
		}
		torrentID = added.ID
		created = true
		p.caches.InvalidateListing()

		log.Debug().Str("torrentID", torrentID).Str("title", candidate.Title).Msg("Registered release with remote service")
	}

	ready, err := p.awaitReady(ctx, torrentID)
	if err != nil {
		p.cleanup(torrentID, created)
		return nil, err
	}

	result, err := p.translate(ctx, candidate, ready)
	if err != nil {
		p.cleanup(torrentID, created)
		return nil, err
	}

	return result, nil
}

// selectFiles marks the candidate's video files as wanted, or everything
// when no video file is identifiable. Retried once; failure after that is
// terminal for the candidate.
func (p *Pipeline) selectFiles(ctx context.Context, torrentID string, detail *debrid.Torrent) error {
	selection := videoSelection(detail.Files)

	err := p.client.SelectFiles(ctx, torrentID, selection)
	if err == nil {
		return nil
	}

	log.Debug().Err(err).Str("torrentID", torrentID).Msg("File selection failed, retrying once")

	return p.client.SelectFiles(ctx, torrentID, selection)
}

// videoSelection returns a comma-joined list of video file ids, or "all"
// when none can be identified.
func videoSelection(files []debrid.File) string {
	var ids []string
	for _, f := range files {
		if mediafile.IsVideo(f.Path) && !mediafile.IsSample(f.Path) {
			ids = append(ids, strconv.Itoa(f.ID))
		}
	}
	if len(ids) == 0 {
		return "all"
	}
	return strings.Join(ids, ",")
}

// awaitReady polls the release's detail through the per-release cache until
// it is downloaded, dead, or the wall-clock timeout expires. File selection
// happens here too, once the release asks for it.
func (p *Pipeline) awaitReady(ctx context.Context, torrentID string) (*debrid.Torrent, error) {
	deadline := time.Now().Add(p.pollTimeout)
	selected := false

	for {
		detail, err := p.caches.TorrentDetail(ctx, p.client, torrentID)
		if err != nil {
			return nil, skip("polling release detail failed: %v", err)
		}

		switch {
		case debrid.IsTerminalStatus(detail.Status):
			if detail.Status == debrid.StatusDownloaded {
				return detail, nil
			}
			return nil, skip("release reached dead status %q", detail.Status)

		case detail.Status == debrid.StatusWaitingSelection && !selected:
			if err := p.selectFiles(ctx, torrentID, detail); err != nil {
				return nil, skip("file selection failed: %v", err)
			}
			selected = true
			p.caches.InvalidateTorrentDetail(torrentID)
			continue
		}

		if time.Now().After(deadline) {
			return nil, skip("release not ready after %s", p.pollTimeout)
		}

		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		p.caches.InvalidateTorrentDetail(torrentID)
	}
}

// translate filters the release down to playable files and converts their
// remote links into direct URLs. Files whose link is missing or fails to
// translate are dropped, not fatal.
func (p *Pipeline) translate(ctx context.Context, candidate torznab.Candidate, detail *debrid.Torrent) (*Result, error) {
	selected := detail.SelectedFiles()

	var files []debrid.SelectedFile
	var links []string
	for _, sf := range selected {
		if !mediafile.IsVideo(sf.Path) || mediafile.IsSample(sf.Path) {
			continue
		}
		if sf.Link == "" {
			log.Debug().Str("file", sf.Name()).Msg("Selected file has no remote link after download, dropping")
			continue
		}
		files = append(files, sf)
		links = append(links, sf.Link)
	}

	if len(files) == 0 {
		return nil, skip("no playable files")
	}

	unrestricted := p.client.UnrestrictBatch(ctx, links, p.unrestrictWorkers)

	result := &Result{
		Title:      candidate.Title,
		Categories: candidate.Categories,
		Seeders:    candidate.Seeders,
		Leechers:   candidate.Leechers,
		Size:       mediafile.FormatSize(candidate.Size),
		Resolution: candidate.Release.Resolution,
		Group:      candidate.Release.Group,
		Year:       candidate.Release.Year,
	}
	for i, sf := range files {
		if unrestricted[i] == nil {
			continue
		}
		result.Files = append(result.Files, FileResult{
			Name:        mediafile.SimplifyName(sf.Name()),
			Size:        sf.Bytes,
			PlayableURL: unrestricted[i].Download,
		})
	}

	if len(result.Files) == 0 {
		return nil, skip("no playable files after link translation")
	}

	return result, nil
}

// cleanup deletes a release this pipeline created and that never became
// usable. Pre-existing releases are never touched. Best-effort: a failed
// delete is logged, nothing more.
func (p *Pipeline) cleanup(torrentID string, created bool) {
	if !created {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := p.client.Delete(ctx, torrentID); err != nil {
		log.Debug().Err(err).Str("torrentID", torrentID).Msg("Failed to delete auto-created release")
		return
	}

	p.caches.InvalidateTorrentDetail(torrentID)
	p.caches.InvalidateListing()
	log.Debug().Str("torrentID", torrentID).Msg("Deleted auto-created release that never became usable")
}
