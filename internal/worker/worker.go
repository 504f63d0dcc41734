// worker.go — extraction consumer runtime.
//
// Each consumer blocks on the Redis queue, runs the dual-engine extraction
// with bounded retries, persists the result, and notifies the caller's
// webhook. The Redis cache entry is written before the job is marked
// completed so a caller polling the job never sees "completed" while the
// cache still misses.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tubetext/tubetext/internal/extractor"
	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/retry"
	"github.com/tubetext/tubetext/internal/store"
	"github.com/tubetext/tubetext/internal/webhook"
	"github.com/tubetext/tubetext/pkg/telemetry"
)

const (
	// dequeueWait bounds each blocking pop so shutdown is responsive.
	dequeueWait = 5 * time.Second
	// maxRetryBackoff caps the wait between extraction attempts.
	maxRetryBackoff = 30 * time.Second
	// maintenanceInterval paces the expired-record reap and webhook
	// redelivery sweep.
	maintenanceInterval = 5 * time.Minute
	// webhookSweepBatch bounds how many stuck deliveries one sweep retries.
	webhookSweepBatch = 50
)

// Extractor runs one extraction end to end.
type Extractor interface {
	Extract(ctx context.Context, videoID, language string, cleanForAI bool) (*extractor.Extracted, error)
}

// Jobs is the queue surface the worker consumes from.
type Jobs interface {
	Dequeue(ctx context.Context, wait time.Duration) (*queue.JobState, error)
	MarkFinished(ctx context.Context, jobID string, result []byte) error
	MarkFailed(ctx context.Context, jobID, excInfo string) error
}

// Store is the durable bookkeeping the pipeline touches.
type Store interface {
	UpdateJobStatus(ctx context.Context, jobID, status string, result []byte, errMsg string) error
	UpsertSubtitle(ctx context.Context, rec *model.SubtitleRecord) error
	MarkSubtitleFailed(ctx context.Context, videoID, language, method, errText string) error
	GetJob(ctx context.Context, jobID string) (*model.ExtractionJob, error)
	UpdateWebhookDelivery(ctx context.Context, jobID string, delivered bool, status, errText string) error
	ListPendingWebhookJobs(ctx context.Context, limit int) ([]*model.ExtractionJob, error)
	DeleteExpiredSubtitles(ctx context.Context, now time.Time) (int64, error)
}

// ResultCache is the shared cache tier completed payloads are published to.
type ResultCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration)
}

// Notifier delivers job webhooks.
type Notifier interface {
	Send(ctx context.Context, url string, p webhook.Payload) webhook.DeliveryResult
}

// Runtime consumes extraction jobs with a fixed number of goroutines.
type Runtime struct {
	jobs        Jobs
	store       Store
	cache       ResultCache
	extractor   Extractor
	notifier    Notifier
	concurrency int
	maxAttempts int
	jobTimeout  time.Duration
	resultTTL   time.Duration
	log         *slog.Logger

	// backoff and capture are swapped out in tests.
	backoff func(attempt int) time.Duration
	capture func(err error, tags map[string]string)
}

type Options struct {
	Concurrency int
	MaxAttempts int
	// BackoffFactor is the exponential base for the wait between extraction
	// attempts. Zero falls back to doubling.
	BackoffFactor float64
	// JobTimeout caps one job end to end, extraction retries included.
	JobTimeout time.Duration
	ResultTTL  time.Duration
}

func New(jobs Jobs, st Store, cache ResultCache, ex Extractor, notifier Notifier, opts Options, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Runtime{
		jobs:        jobs,
		store:       st,
		cache:       cache,
		extractor:   ex,
		notifier:    notifier,
		concurrency: opts.Concurrency,
		maxAttempts: opts.MaxAttempts,
		jobTimeout:  opts.JobTimeout,
		resultTTL:   opts.ResultTTL,
		log:         log,
		backoff:     retry.FactorBackoff(opts.BackoffFactor, maxRetryBackoff),
		capture:     telemetry.CaptureError,
	}
}

// Run consumes jobs until ctx is canceled. In-flight jobs finish before Run
// returns.
func (r *Runtime) Run(ctx context.Context) error {
	r.log.Info("worker runtime starting", "concurrency", r.concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.concurrency; i++ {
		g.Go(func() error {
			return r.consume(ctx)
		})
	}
	g.Go(func() error {
		return r.maintain(ctx)
	})
	err := g.Wait()
	r.log.Info("worker runtime stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runtime) consume(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, err := r.jobs.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("dequeue failed", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		// The job itself runs on its own deadline, detached from shutdown,
		// so cancellation never abandons a half-persisted job.
		r.Process(context.WithoutCancel(ctx), job)
	}
}

// Process runs one job through the extraction pipeline.
func (r *Runtime) Process(ctx context.Context, job *queue.JobState) {
	if r.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	videoID := job.Payload.VideoID
	language := job.Payload.Language
	log := r.log.With("job_id", job.ID, "video_id", videoID, "language", language)
	log.Info("job started", "client_ip_hash", job.Payload.ClientIPHash)

	if err := r.store.UpdateJobStatus(ctx, job.ID, model.JobProcessing, nil, ""); err != nil {
		log.Error("failed to mark job processing", "error", err)
	}

	started := time.Now()
	var extracted *extractor.Extracted
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: r.maxAttempts,
		Backoff:     r.backoff,
		Retryable:   extractor.Retriable,
		OnAttempt: func(attempt int, err error) {
			log.Warn("extraction attempt failed", "attempt", attempt, "error", err)
		},
	}, func(ctx context.Context) error {
		var ferr error
		extracted, ferr = r.extractor.Extract(ctx, videoID, language, job.Payload.CleanForAI)
		return ferr
	})
	if err != nil {
		r.fail(ctx, job, log, err)
		return
	}

	durationMS := time.Since(started).Milliseconds()
	payload := &model.SubtitlePayload{
		Success:          true,
		VideoID:          extracted.VideoID,
		Title:            extracted.Title,
		Language:         extracted.Language,
		ExtractionMethod: extracted.Method,
		SubtitleCount:    len(extracted.Segments),
		DurationMS:       durationMS,
		Cached:           false,
		Subtitles:        extracted.Segments,
		PlainText:        extracted.PlainText,
		ProxyUsed:        extracted.ProxyUsed,
		CreatedAt:        model.UTCNowISO(),
	}
	result, merr := json.Marshal(payload)
	if merr != nil {
		r.fail(ctx, job, log, merr)
		return
	}

	if err := r.store.UpsertSubtitle(ctx, &model.SubtitleRecord{
		VideoID:              videoID,
		Language:             language,
		Title:                extracted.Title,
		Subtitles:            extracted.Segments,
		PlainText:            extracted.PlainText,
		AutoGenerated:        extracted.AutoGenerated,
		ExtractionMethod:     extracted.Method,
		ExtractionDurationMS: durationMS,
		ProxyUsed:            extracted.ProxyUsed,
	}); err != nil {
		r.fail(ctx, job, log, err)
		return
	}

	// Publish to Redis before the job flips to completed.
	r.cache.Set(ctx, keys.Cache(videoID, language), payload, r.resultTTL)

	if err := r.store.UpdateJobStatus(ctx, job.ID, model.JobCompleted, result, ""); err != nil {
		log.Error("failed to mark job completed", "error", err)
	}
	if err := r.jobs.MarkFinished(ctx, job.ID, result); err != nil {
		log.Error("failed to finish queue job", "error", err)
	}

	r.notify(ctx, job.ID, videoID, "success", result, "")

	log.Info("job completed",
		"method", extracted.Method,
		"subtitle_count", len(extracted.Segments),
		"duration_ms", durationMS,
		"proxy_used", extracted.ProxyUsed)
}

// fail records a failed job in every store that tracks it.
func (r *Runtime) fail(ctx context.Context, job *queue.JobState, log *slog.Logger, err error) {
	errText := err.Error()
	status := model.JobFailed
	if errors.Is(err, context.DeadlineExceeded) {
		status = model.JobTimeout
	}
	log.Error("job failed", "status", status, "error", errText)
	r.capture(err, map[string]string{
		"job_id":   job.ID,
		"video_id": job.Payload.VideoID,
		"status":   status,
	})

	videoID := job.Payload.VideoID
	language := job.Payload.Language
	if serr := r.store.MarkSubtitleFailed(ctx, videoID, language, "unknown", errText); serr != nil {
		log.Error("failed to record subtitle failure", "error", serr)
	}
	if serr := r.store.UpdateJobStatus(ctx, job.ID, status, nil, errText); serr != nil {
		log.Error("failed to mark job failed", "error", serr)
	}
	if qerr := r.jobs.MarkFailed(ctx, job.ID, errText); qerr != nil {
		log.Error("failed to fail queue job", "error", qerr)
	}
	r.notify(ctx, job.ID, videoID, "failed", nil, errText)
}

// notify delivers the job webhook when one is configured and records the
// delivery outcome on the job row.
func (r *Runtime) notify(ctx context.Context, jobID, videoID, status string, result []byte, errText string) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Error("webhook lookup failed", "job_id", jobID, "error", err)
		}
		return
	}
	if job.WebhookURL == "" {
		return
	}

	res := r.notifier.Send(ctx, job.WebhookURL, webhook.Payload{
		Event:   "job.completed",
		JobID:   jobID,
		VideoID: videoID,
		Status:  status,
		Result:  result,
		Error:   errText,
	})
	deliveryStatus := model.WebhookDelivered
	if !res.Success {
		deliveryStatus = model.WebhookFailed
	}
	if err := r.store.UpdateWebhookDelivery(ctx, jobID, res.Success, deliveryStatus, res.Error); err != nil {
		r.log.Error("failed to record webhook delivery", "job_id", jobID, "error", err)
	}
}

// maintain periodically reaps expired subtitle rows and retries webhook
// deliveries that failed when their job finished.
func (r *Runtime) maintain(ctx context.Context) error {
	t := time.NewTicker(maintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.Sweep(context.WithoutCancel(ctx))
		}
	}
}

// Sweep runs one maintenance pass.
func (r *Runtime) Sweep(ctx context.Context) {
	if n, err := r.store.DeleteExpiredSubtitles(ctx, time.Now()); err != nil {
		r.log.Error("expired subtitle reap failed", "error", err)
	} else if n > 0 {
		r.log.Info("reaped expired subtitle records", "deleted", n)
	}

	jobs, err := r.store.ListPendingWebhookJobs(ctx, webhookSweepBatch)
	if err != nil {
		r.log.Error("webhook sweep listing failed", "error", err)
		return
	}
	for _, job := range jobs {
		status := "failed"
		if job.Status == model.JobCompleted {
			status = "success"
		}
		res := r.notifier.Send(ctx, job.WebhookURL, webhook.Payload{
			Event:   "job.completed",
			JobID:   job.JobID,
			VideoID: job.VideoID,
			Status:  status,
			Result:  job.ResultJSON,
			Error:   job.ErrorMessage,
		})
		deliveryStatus := model.WebhookDelivered
		if !res.Success {
			deliveryStatus = model.WebhookFailed
		}
		if err := r.store.UpdateWebhookDelivery(ctx, job.JobID, res.Success, deliveryStatus, res.Error); err != nil {
			r.log.Error("failed to record webhook redelivery", "job_id", job.JobID, "error", err)
		}
	}
	if len(jobs) > 0 {
		r.log.Info("webhook redelivery sweep finished", "attempted", len(jobs))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
