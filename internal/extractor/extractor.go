// Package extractor pulls subtitles out of YouTube with two engines and a
// direct-first, proxy-on-retriable routing policy.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tubetext/tubetext/internal/metrics"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/proxypool"
)

// Result is what a single engine attempt produces.
type Result struct {
	Title         string
	Segments      []model.Segment
	AutoGenerated bool
}

// Engine is one extraction strategy. Name returns the extraction_method
// value persisted with the record.
type Engine interface {
	Name() string
	Fetch(ctx context.Context, client *http.Client, videoID, language string) (*Result, error)
}

// Extracted is the uniform extraction outcome.
type Extracted struct {
	VideoID       string
	Title         string
	Language      string
	Segments      []model.Segment
	PlainText     string
	Method        string
	ProxyUsed     string
	AutoGenerated bool
}

// Extractor routes extraction across the two engines and the proxy pool.
type Extractor struct {
	primary  Engine
	fallback Engine
	pool     *proxypool.Pool
	timeout  time.Duration
	log      *slog.Logger

	// titleFn is swapped out in tests.
	titleFn func(ctx context.Context, client *http.Client, videoID string) string
}

// New creates an Extractor. pool may be nil when no proxies are configured.
func New(primary, fallback Engine, pool *proxypool.Pool, timeout time.Duration, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		primary:  primary,
		fallback: fallback,
		pool:     pool,
		timeout:  timeout,
		log:      log,
		titleFn:  fetchTitle,
	}
}

// Extract runs the routing sequence: primary direct, primary via proxy when
// the failure is retriable, then the fallback engine with the same two
// steps. Permanent errors short-circuit the proxy step; "video unavailable"
// aborts entirely.
func (e *Extractor) Extract(ctx context.Context, videoID, language string, cleanForAI bool) (*Extracted, error) {
	start := time.Now()

	out, err := e.runEngine(ctx, e.primary, videoID, language, cleanForAI)
	if err == nil {
		metrics.ExtractionDuration.WithLabelValues(e.primary.Name()).Observe(time.Since(start).Seconds())
		return out, nil
	}
	if isFatal(err) {
		return nil, err
	}
	lastErr := err

	e.log.Info("primary engine failed directly",
		"video_id", videoID, "error", err, "retriable", Retriable(err))

	if Retriable(err) {
		if out, perr := e.runViaProxy(ctx, e.primary, videoID, language, cleanForAI); perr == nil {
			metrics.ExtractionDuration.WithLabelValues(e.primary.Name()).Observe(time.Since(start).Seconds())
			return out, nil
		} else if isFatal(perr) {
			return nil, perr
		} else {
			lastErr = perr
		}
	}

	out, err = e.runEngine(ctx, e.fallback, videoID, language, cleanForAI)
	if err == nil {
		metrics.ExtractionDuration.WithLabelValues(e.fallback.Name()).Observe(time.Since(start).Seconds())
		return out, nil
	}
	if isFatal(err) {
		return nil, err
	}
	lastErr = err

	e.log.Info("fallback engine failed directly", "video_id", videoID, "error", err)

	if Retriable(err) {
		if out, perr := e.runViaProxy(ctx, e.fallback, videoID, language, cleanForAI); perr == nil {
			metrics.ExtractionDuration.WithLabelValues(e.fallback.Name()).Observe(time.Since(start).Seconds())
			return out, nil
		} else {
			lastErr = perr
		}
	}

	return nil, fmt.Errorf("extraction failed: %w", lastErr)
}

// isFatal reports whether an error makes every further route pointless.
// Only video unavailability is final across engines; "no transcript found"
// and "transcripts disabled" still deserve the fallback engine, which sees
// generated tracks the primary path may miss.
func isFatal(err error) bool {
	return errors.Is(err, ErrVideoUnavailable)
}

func (e *Extractor) runViaProxy(ctx context.Context, engine Engine, videoID, language string, cleanForAI bool) (*Extracted, error) {
	if e.pool == nil || e.pool.Size() == 0 {
		return nil, fmt.Errorf("no proxy available")
	}
	proxy := e.pool.Choose(ctx)
	if proxy == nil {
		return nil, fmt.Errorf("no proxy available")
	}
	out, err := e.attempt(ctx, engine, videoID, language, cleanForAI, proxy)
	if err != nil {
		e.pool.MarkFailure(ctx, proxy)
		return nil, err
	}
	e.pool.MarkSuccess(ctx, proxy)
	out.ProxyUsed = proxy.URL
	return out, nil
}

func (e *Extractor) runEngine(ctx context.Context, engine Engine, videoID, language string, cleanForAI bool) (*Extracted, error) {
	return e.attempt(ctx, engine, videoID, language, cleanForAI, nil)
}

func (e *Extractor) attempt(ctx context.Context, engine Engine, videoID, language string, cleanForAI bool, proxy *proxypool.Proxy) (*Extracted, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	client, err := e.httpClient(proxy)
	if err != nil {
		return nil, err
	}
	res, err := engine.Fetch(ctx, client, videoID, language)
	if err != nil {
		metrics.ExtractionFailure.WithLabelValues(engine.Name()).Inc()
		return nil, err
	}

	segments, plain := res.Segments, ""
	if cleanForAI {
		segments, plain = CleanSegments(res.Segments)
	} else {
		plain = JoinPlain(res.Segments)
	}

	title := res.Title
	if title == "" {
		title = e.titleFn(ctx, client, videoID)
	}

	metrics.ExtractionSuccess.WithLabelValues(engine.Name()).Inc()
	return &Extracted{
		VideoID:       videoID,
		Title:         title,
		Language:      language,
		Segments:      segments,
		PlainText:     plain,
		Method:        engine.Name(),
		AutoGenerated: res.AutoGenerated,
	}, nil
}

// httpClient builds a per-attempt client, optionally routed through a proxy.
func (e *Extractor) httpClient(proxy *proxypool.Proxy) (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: e.timeout,
	}
	if proxy != nil {
		proxyURL, err := url.Parse(proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport, Timeout: e.timeout}, nil
}
