// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"encoding/json"
	"strings"

	"github.com/autobrr/debrider/pkg/hashutil"
)

// Torrent statuses reported by the remote service. A torrent is usable only
// once it reaches StatusDownloaded; the dead statuses never recover.
const (
	StatusQueued            = "queued"
	StatusDownloading       = "downloading"
	StatusDownloaded        = "downloaded"
	StatusWaitingSelection  = "waiting_files_selection"
	StatusMagnetConversion  = "magnet_conversion"
	StatusCompressing       = "compressing"
	StatusUploading         = "uploading"
	StatusError             = "error"
	StatusMagnetError       = "magnet_error"
	StatusVirus             = "virus"
	StatusDead              = "dead"
)

var deadStatuses = map[string]struct{}{
	StatusError:       {},
	StatusMagnetError: {},
	StatusVirus:       {},
	StatusDead:        {},
}

// IsDeadStatus reports whether the status is terminal without ever becoming
// downloadable.
func IsDeadStatus(status string) bool {
	_, ok := deadStatuses[status]
	return ok
}

// IsTerminalStatus reports whether polling can stop for this status.
func IsTerminalStatus(status string) bool {
	return status == StatusDownloaded || IsDeadStatus(status)
}

// Torrent is the remote service's view of a registered release.
type Torrent struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Status   string   `json:"status"`
	Progress float64  `json:"progress"`
	Added    string   `json:"added"`
	Files    []File   `json:"files,omitempty"`
	Links    []string `json:"links,omitempty"`
}

// File is a single file within a torrent. Selected is 0 or 1 as reported by
// the remote service; the link for a selected file lives at the matching
// position of the owning Torrent's Links slice.
type File struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes"`
	Selected int    `json:"selected"`
}

// Name returns the file's base name without the leading path.
func (f File) Name() string {
	if i := strings.LastIndex(f.Path, "/"); i >= 0 {
		return f.Path[i+1:]
	}
	return f.Path
}

// SelectedFiles pairs each selected file with its remote link, preserving the
// service's ordering so links line up with files.
func (t *Torrent) SelectedFiles() []SelectedFile {
	var out []SelectedFile
	linkIdx := 0
	for _, f := range t.Files {
		if f.Selected != 1 {
			continue
		}
		sf := SelectedFile{File: f}
		if linkIdx < len(t.Links) {
			sf.Link = t.Links[linkIdx]
		}
		linkIdx++
		out = append(out, sf)
	}
	return out
}

// SelectedFile is a selected file together with its remote link. Link is
// empty until the owning torrent reaches downloaded.
type SelectedFile struct {
	File
	Link string
}

// AddedTorrent is the remote service's response to a registration.
type AddedTorrent struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// UnrestrictedLink is a remote link translated into a direct download URL.
type UnrestrictedLink struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Host     string `json:"host"`
	Download string `json:"download"`
}

// AccountInfo is the remote account snapshot.
type AccountInfo struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Points     int    `json:"points"`
	Type       string `json:"type"`
	Premium    int64  `json:"premium"`
	Expiration string `json:"expiration"`
}

// AvailabilityVariant is one cached file inside a variant group.
type AvailabilityVariant struct {
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// HostVariants maps host name -> variant groups, each group a file-selection
// alternative keyed by file id. The service returns an empty JSON array
// instead of an object when a hash has no cached variants, so decoding
// tolerates both shapes.
type HostVariants map[string][]map[string]AvailabilityVariant

func (h *HostVariants) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		*h = HostVariants{}
		return nil
	}
	var m map[string][]map[string]AvailabilityVariant
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*h = m
	return nil
}

// AvailabilityResponse maps lowercase content hash -> host -> cached variant
// groups.
type AvailabilityResponse map[string]HostVariants

// Available reports whether any cached variant exists for the hash.
func (r AvailabilityResponse) Available(hash string) bool {
	return r.CachedBytes(hash) > 0
}

// CachedBytes returns the largest per-host total of cached file sizes for the
// hash, summed across that host's variant groups, so callers can compare
// against the expected release size.
func (r AvailabilityResponse) CachedBytes(hash string) int64 {
	hosts, ok := r[hashutil.Normalize(hash)]
	if !ok {
		return 0
	}
	var best int64
	for _, groups := range hosts {
		var total int64
		for _, files := range groups {
			for _, f := range files {
				total += f.Filesize
			}
		}
		if total > best {
			best = total
		}
	}
	return best
}

// APIError is a structured error body from the remote service.
type APIError struct {
	ErrorMessage string `json:"error"`
	ErrorCode    int    `json:"error_code"`
}

func (e *APIError) Error() string {
	return e.ErrorMessage
}
