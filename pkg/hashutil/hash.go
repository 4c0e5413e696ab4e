// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil normalizes torrent info hashes so that lookups against
// the debrid service and deduplication across search results compare the
// same canonical form.
package hashutil

import "strings"

// Normalize canonicalizes an info hash by trimming whitespace and lowercasing.
// Returns an empty string if the input is blank.
func Normalize(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// NormalizeAll normalizes a slice of hashes, dropping empty entries and
// duplicates while preserving the order of first occurrence.
func NormalizeAll(hashes []string) []string {
	if len(hashes) == 0 {
		return nil
	}

	result := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))

	for _, hash := range hashes {
		normalized := Normalize(hash)
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		result = append(result, normalized)
	}

	return result
}

// IsValid reports whether the hash looks like a BitTorrent info hash:
// 40 hex characters, or 32 base32 characters for magnet links that carry
// the older encoding.
func IsValid(hash string) bool {
	h := strings.TrimSpace(hash)
	switch len(h) {
	case 40:
		for _, r := range h {
			if !isHex(r) {
				return false
			}
		}
		return true
	case 32:
		for _, r := range h {
			if !isBase32(r) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isBase32(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7')
}
