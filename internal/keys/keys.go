// Package keys derives the cache, lock, rate-limit, and proxy identity keys
// used across the Redis and in-process cache tiers. All functions are pure;
// no key is ever persisted as data.
package keys

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// videoIDRE matches a YouTube video ID: exactly 11 chars of [A-Za-z0-9_-].
var videoIDRE = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

// videoURLRE extracts an 11-char video ID embedded in a watch/shorts/short-link URL.
var videoURLRE = regexp.MustCompile(`(?:https?:\/\/)?(?:www\.)?(?:youtube\.com|youtu\.be)\/(?:watch\?v=|shorts\/)?([a-zA-Z0-9_-]{11})`)

// ValidVideoID reports whether id is a well-formed 11-character video ID.
func ValidVideoID(id string) bool {
	return videoIDRE.MatchString(id)
}

// ExtractVideoID pulls a video ID out of a full YouTube URL.
// Returns "" when no ID is present.
func ExtractVideoID(url string) string {
	m := videoURLRE.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// Cache returns the Tier-1/Tier-2 cache key for a (video, language) pair.
func Cache(videoID, language string) string {
	if language == "" {
		return fmt.Sprintf("youtube:subtitle:%s", videoID)
	}
	return fmt.Sprintf("youtube:subtitle:%s:%s", videoID, language)
}

// Lock returns the coalescing-lock key guarding a cache key.
func Lock(cacheKey string) string {
	return "lock:" + cacheKey
}

// RateLimit returns the token-bucket key for a (client IP, endpoint) pair.
// The endpoint is MD5-hashed and truncated to 8 hex chars to keep key
// cardinality bounded regardless of URL length.
func RateLimit(clientIP, endpoint string) string {
	sum := md5.Sum([]byte(endpoint))
	return fmt.Sprintf("ratelimit:%s:%s", clientIP, hex.EncodeToString(sum[:])[:8])
}

// ProxyID returns the stable identity of a proxy URL: the first 16 hex chars
// of its SHA-256 digest. Used to key failure counters without storing
// credentials embedded in the URL.
func ProxyID(proxyURL string) string {
	sum := sha256.Sum256([]byte(proxyURL))
	return hex.EncodeToString(sum[:])[:16]
}

// ProxyFails returns the failure-counter key for a proxy.
func ProxyFails(proxyID string) string {
	return "proxy:fails:" + proxyID
}

// ProxyLastFailure returns the last-failure-timestamp key for a proxy.
func ProxyLastFailure(proxyID string) string {
	return "proxy:last_failure:" + proxyID
}

// HashIP hashes a client IP for log lines (first 16 hex chars of SHA-256).
// Raw IPs never appear in structured logs.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}
