// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mediafile classifies release files for playback and formats sizes.
package mediafile

import (
	"fmt"
	"path"
	"strings"
)

// videoExtensions covers the containers we are willing to hand to a player.
var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
	".m4v":  {},
	".mpg":  {},
	".mpeg": {},
	".ts":   {},
	".m2ts": {},
	".vob":  {},
	".ogv":  {},
	".3gp":  {},
}

// IsVideo reports whether the file name has a playable video extension.
func IsVideo(name string) bool {
	ext := strings.ToLower(path.Ext(strings.TrimSpace(name)))
	if ext == "" {
		return false
	}
	_, ok := videoExtensions[ext]
	return ok
}

// IsSample reports whether a file looks like a sample clip rather than the
// main feature. Sample files routinely share the release's extension, so
// callers filter them out separately from IsVideo.
func IsSample(name string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "/sample/") {
		return true
	}
	return strings.HasPrefix(path.Base(lower), "sample")
}

// FormatSize converts a byte count into a human-readable string.
func FormatSize(sizeBytes int64) string {
	if sizeBytes < 0 {
		return "0.00 B"
	}
	size := float64(sizeBytes)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if size < 1024 {
			return fmt.Sprintf("%.2f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.2f PB", size)
}

// SimplifyName replaces scene-style dots with spaces, preserving the extension.
func SimplifyName(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return strings.ReplaceAll(stem, ".", " ") + ext
}
