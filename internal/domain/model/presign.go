package model

import (
	"fmt"
	"regexp"
	"strings"
)

// PresignedEntry is a cached presigned-URL credential together with the
// bookkeeping needed to decide freshness and regeneration (V3/P5).
type PresignedEntry struct {
	FullURL       string
	AuthTokenOnly string
	OriginalURL   string
	CreatedAt     int64
	ExpiresAt     int64
	Path          string
	StorageType   string
	AuthType      string
	Region        string
	Service       string
	Version       int
}

// Fresh reports whether the entry may still be surfaced to callers: no
// PresignedEntry with expiresAt <= now is ever returned (P5).
func (e PresignedEntry) Fresh(now int64) bool {
	return e.ExpiresAt > now
}

// EffectiveTTL is the write-time TTL a writer stores the entry with:
// floor(0.9 * (expiresAt - createdAt)).
func EffectiveTTL(expiresAt, createdAt int64) int64 {
	d := expiresAt - createdAt
	if d <= 0 {
		return 0
	}
	return int64(0.9 * float64(d))
}

var presignKeySanitizer = regexp.MustCompile(`[^A-Za-z0-9:_\-./=]`)

// PresignCacheKey builds the C5 key grammar:
// presigned:{storageType}:{normalizedPath}:auth={type}[:region=R][:service=S],
// sanitized to a fixed character class.
func PresignCacheKey(storageType, normalizedPath, authType, region, service string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "presigned:%s:%s:auth=%s", storageType, normalizedPath, authType)
	if region != "" {
		fmt.Fprintf(&b, ":region=%s", region)
	}
	if service != "" {
		fmt.Fprintf(&b, ":service=%s", service)
	}
	return presignKeySanitizer.ReplaceAllString(b.String(), "_")
}
