// errors.go — extraction error taxonomy.
//
// Permanent errors describe the video itself and never improve by routing
// through a proxy. Retriable errors are transport-shaped: another attempt,
// another route, or the other engine may succeed.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Permanent extraction outcomes.
var (
	ErrTranscriptsDisabled = errors.New("transcripts disabled for this video")
	ErrNoTranscriptFound   = errors.New("no transcript found for requested language")
	ErrVideoUnavailable    = errors.New("video unavailable")
)

// HTTPError wraps a non-2xx upstream response.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.Status, e.URL)
}

// Permanent reports whether err can never be fixed by retrying or proxying.
func Permanent(err error) bool {
	return errors.Is(err, ErrTranscriptsDisabled) ||
		errors.Is(err, ErrNoTranscriptFound) ||
		errors.Is(err, ErrVideoUnavailable)
}

// Retriable reports whether err is worth another attempt through a proxy.
// Transport failures, timeouts, and YouTube's 403/429 blocks qualify;
// permanent video states never do.
func Retriable(err error) bool {
	if err == nil || Permanent(err) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 403 || httpErr.Status == 429 || httpErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"forbidden", "rate limit", "timeout", "connection", "network"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
