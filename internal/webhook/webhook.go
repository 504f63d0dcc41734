// Package webhook delivers signed job-completion notifications.
//
// The body on the wire is the canonical JSON encoding of the payload (keys
// sorted, no whitespace). The signature covers that exact body plus the
// timestamp header, so receivers verify against the raw bytes they read.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tubetext/tubetext/internal/metrics"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/validate"
)

const (
	// SignatureHeader carries "sha256=<hex hmac>".
	SignatureHeader = "X-Webhook-Signature"
	// TimestampHeader carries the signing timestamp; receivers use it for
	// freshness checks.
	TimestampHeader = "X-Webhook-Timestamp"

	userAgent   = "YouTube-Subtitle-API/1.0"
	maxBackoff  = 10 * time.Second
	baseBackoff = time.Second
)

// Payload is one job notification.
type Payload struct {
	Event     string
	JobID     string
	VideoID   string
	Status    string
	Result    json.RawMessage
	Error     string
	Timestamp string
}

// CanonicalJSON renders the payload with sorted keys and no whitespace.
// result and error are omitted entirely when absent, never sent as null.
func (p *Payload) CanonicalJSON() ([]byte, error) {
	m := map[string]any{
		"event":     p.Event,
		"job_id":    p.JobID,
		"video_id":  p.VideoID,
		"status":    p.Status,
		"timestamp": p.Timestamp,
	}
	if len(p.Result) > 0 {
		m["result"] = p.Result
	}
	if p.Error != "" {
		m["error"] = p.Error
	}
	return json.Marshal(m)
}

// Sign computes the hex HMAC-SHA256 of body + "." + timestamp, prefixed
// with the scheme tag.
func Sign(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret string, body []byte, timestamp, signature string) bool {
	expected := Sign(secret, body, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// DeliveryResult reports the outcome of a Send.
type DeliveryResult struct {
	Success    bool
	StatusCode int
	Error      string
	Attempt    int
}

// Client posts notifications with bounded retries.
type Client struct {
	secret     string
	maxRetries int
	httpClient *http.Client
	log        *slog.Logger

	// sleep is replaced in tests to skip real backoff waits.
	sleep func(context.Context, time.Duration) error
}

// NewClient creates a webhook Client. An empty secret disables signing.
func NewClient(secret string, timeout time.Duration, maxRetries int, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		secret:     secret,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		sleep:      sleepCtx,
	}
}

// Send validates the URL, signs the canonical body, and posts it with up to
// maxRetries attempts and exponential backoff. Any 2xx counts as delivered.
func (c *Client) Send(ctx context.Context, url string, p Payload) DeliveryResult {
	if err := validate.WebhookURL("webhook_url", url); err != nil {
		metrics.WebhookDeliveries.WithLabelValues("invalid_url").Inc()
		return DeliveryResult{Success: false, Error: err.Error(), Attempt: 0}
	}
	if p.Timestamp == "" {
		p.Timestamp = model.UTCNowISO()
	}

	body, err := p.CanonicalJSON()
	if err != nil {
		return DeliveryResult{Success: false, Error: fmt.Sprintf("encode payload: %v", err), Attempt: 0}
	}

	var lastErr string
	var lastStatus int
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		status, err := c.post(ctx, url, body, p.Timestamp)
		if err == nil && status >= 200 && status < 300 {
			c.log.Info("webhook delivered",
				"job_id", p.JobID, "status_code", status, "attempt", attempt)
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return DeliveryResult{Success: true, StatusCode: status, Attempt: attempt}
		}
		if err != nil {
			lastErr = err.Error()
			c.log.Warn("webhook attempt failed",
				"job_id", p.JobID, "attempt", attempt, "error", err)
		} else {
			lastStatus = status
			lastErr = fmt.Sprintf("HTTP %d", status)
			c.log.Warn("webhook attempt returned non-2xx",
				"job_id", p.JobID, "attempt", attempt, "status_code", status)
		}

		if attempt < c.maxRetries {
			backoff := baseBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if err := c.sleep(ctx, backoff); err != nil {
				lastErr = err.Error()
				break
			}
		}
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	return DeliveryResult{Success: false, StatusCode: lastStatus, Error: lastErr, Attempt: c.maxRetries}
}

func (c *Client) post(ctx context.Context, url string, body []byte, timestamp string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(TimestampHeader, timestamp)
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, body, timestamp))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
