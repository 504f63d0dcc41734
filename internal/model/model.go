// Package model defines the wire and persistence types shared by the API
// server, the worker runtime, and the cache tiers.
package model

import "time"

// Extraction engine names recorded on subtitle rows and payloads.
const (
	MethodPrimary  = "youtube-transcript-api"
	MethodFallback = "yt-dlp"
)

// Subtitle extraction statuses on subtitle_records rows.
const (
	ExtractionPending = "pending"
	ExtractionSuccess = "success"
	ExtractionFailed  = "failed"
)

// Durable job statuses on extraction_jobs rows. Transitions are one-way:
// queued → processing → {completed, failed, timeout, stale}.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobTimeout    = "timeout"
	JobStale      = "stale"
)

// Webhook delivery statuses on extraction_jobs rows.
const (
	WebhookPending   = "pending"
	WebhookDelivered = "delivered"
	WebhookFailed    = "failed"
)

// TerminalJobStatus reports whether a durable job status is final.
func TerminalJobStatus(s string) bool {
	switch s {
	case JobCompleted, JobFailed, JobTimeout, JobStale:
		return true
	}
	return false
}

// Segment is a single timed subtitle line. Start and Duration are seconds.
type Segment struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// SubtitlePayload is the canonical subtitle response body. The same shape is
// stored in Redis, returned from cache reads, and attached to completed jobs,
// so a cached response is byte-stable for the cache TTL.
type SubtitlePayload struct {
	Success          bool      `json:"success"`
	VideoID          string    `json:"video_id"`
	Title            string    `json:"title,omitempty"`
	Language         string    `json:"language"`
	ExtractionMethod string    `json:"extraction_method"`
	SubtitleCount    int       `json:"subtitle_count"`
	DurationMS       int64     `json:"duration_ms"`
	Cached           bool      `json:"cached"`
	CacheTier        string    `json:"cache_tier,omitempty"`
	Subtitles        []Segment `json:"subtitles"`
	PlainText        string    `json:"plain_text"`
	ProxyUsed        string    `json:"proxy_used,omitempty"`
	CreatedAt        string    `json:"created_at"`
}

// SubtitleRecord mirrors a subtitle_records row.
type SubtitleRecord struct {
	ID                   string
	VideoID              string
	Language             string
	Title                string
	DurationSeconds      int
	Subtitles            []Segment
	PlainText            string
	AutoGenerated        bool
	ExtractionMethod     string
	ExtractionDurationMS int64
	ExtractionStatus     string
	ExtractionError      string
	ProxyUsed            string
	Checksum             string
	RetryCount           int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	ExpiresAt            time.Time
}

// ExtractionJob mirrors an extraction_jobs row.
type ExtractionJob struct {
	ID                   string
	VideoID              string
	Language             string
	JobID                string
	Status               string
	ResultJSON           []byte
	ErrorMessage         string
	WebhookURL           string
	WebhookDelivered     bool
	WebhookStatus        string
	WebhookDeliveryError string
	CreatedAt            time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	DurationSeconds      *float64
	Attempt              int
	MaxAttempts          int
}

// UTCNowISO returns the current UTC time formatted the way every timestamp in
// the API surface is: RFC 3339 with a trailing Z.
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}
