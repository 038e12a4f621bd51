package utils

import (
	"strings"
)

// BoolToUInt8 encodes a flag for ClickHouse UInt8 columns.
func BoolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Dedup drops repeated entries, keeping first-seen order.
func Dedup[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, e := range in {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

// NormalizeURLs trims whitespace and trailing slashes so "http://a/" and "http://a" are one endpoint.
func NormalizeURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			out = append(out, u)
		}
	}
	return Dedup(out)
}
