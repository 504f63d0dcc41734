// orchestrator.go — read-through cache tiers and single-flight job admission.
//
// Reads walk memory → Redis → Postgres, annotating the payload with the tier
// that served it. Writes never happen here: the worker populates Postgres and
// Redis, and this package backfills the faster tiers on the way out. A
// coalescing lock keeps a stampede of identical misses from all hitting
// Postgres at once.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/metrics"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/store"
)

const (
	// lockTTL bounds how long a crashed reader can hold the coalescing lock.
	lockTTL = 30 * time.Second
	// lockRetryWait is how long a reader that lost the lock race waits before
	// re-checking Redis for the winner's result.
	lockRetryWait = 100 * time.Millisecond
)

// Cache tier names surfaced on payloads and metrics.
const (
	TierMemory   = "memory"
	TierRedis    = "redis"
	TierPostgres = "postgres"
)

// MemCache is the in-process tier.
type MemCache interface {
	Get(key string) (any, bool)
	GetMany(keys []string) map[string]any
	Set(key string, value any)
}

// SharedCache is the Redis tier, shared across processes. It also provides
// the coalescing lock.
type SharedCache interface {
	Get(ctx context.Context, key string, dest any) bool
	GetMany(ctx context.Context, keys []string) map[string]json.RawMessage
	Set(ctx context.Context, key string, value any, ttl time.Duration)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) bool
	ReleaseLock(ctx context.Context, lockKey string) bool
}

// Store is the durable tier plus the job bookkeeping the enqueue path needs.
type Store interface {
	FindSubtitle(ctx context.Context, videoID, language string) (*model.SubtitleRecord, error)
	FindPendingJob(ctx context.Context, videoID, language string) (*model.ExtractionJob, error)
	CreateJob(ctx context.Context, videoID, language, jobID, webhookURL string) error
	UpdateJobStatus(ctx context.Context, jobID, status string, result []byte, errMsg string) error
}

// JobQueue is the subset of the Redis queue the API process uses.
type JobQueue interface {
	Enqueue(ctx context.Context, payload queue.Payload) (string, error)
	Fetch(ctx context.Context, jobID string) (*queue.JobState, error)
}

// Orchestrator coordinates the cache tiers and the job queue for the API
// process.
type Orchestrator struct {
	mem       MemCache
	shared    SharedCache
	store     Store
	queue     JobQueue
	resultTTL time.Duration
	log       *slog.Logger

	sleep func(ctx context.Context, d time.Duration)
}

func New(mem MemCache, shared SharedCache, st Store, q JobQueue, resultTTL time.Duration, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		mem:       mem,
		shared:    shared,
		store:     st,
		queue:     q,
		resultTTL: resultTTL,
		log:       log,
		sleep:     sleepCtx,
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

// annotate returns a copy of p marked as served from tier. The stored value
// stays tier-neutral so every read reports where it was actually found.
func annotate(p *model.SubtitlePayload, tier string) *model.SubtitlePayload {
	out := *p
	out.Cached = true
	out.CacheTier = tier
	return &out
}

// GetCached walks the tiers for one (video, language) pair. A nil payload
// means a miss everywhere; the caller decides whether to enqueue.
func (o *Orchestrator) GetCached(ctx context.Context, videoID, language string) *model.SubtitlePayload {
	ck := keys.Cache(videoID, language)

	if v, ok := o.mem.Get(ck); ok {
		if p, ok := v.(*model.SubtitlePayload); ok {
			metrics.CacheHits.WithLabelValues(TierMemory).Inc()
			return annotate(p, TierMemory)
		}
	}

	if p := o.sharedGet(ctx, ck); p != nil {
		o.mem.Set(ck, p)
		metrics.CacheHits.WithLabelValues(TierRedis).Inc()
		return annotate(p, TierRedis)
	}

	// Tier 3 sits behind a coalescing lock so concurrent misses for the same
	// key produce one Postgres read; the rest wait briefly and pick the
	// result up from Redis.
	lock := keys.Lock(ck)
	if !o.shared.AcquireLock(ctx, lock, lockTTL) {
		o.sleep(ctx, lockRetryWait)
		if p := o.sharedGet(ctx, ck); p != nil {
			o.mem.Set(ck, p)
			metrics.CacheHits.WithLabelValues(TierRedis).Inc()
			return annotate(p, TierRedis)
		}
		metrics.CacheMisses.Inc()
		return nil
	}
	defer o.shared.ReleaseLock(ctx, lock)

	// Another reader may have filled Redis between our miss and the lock.
	if p := o.sharedGet(ctx, ck); p != nil {
		o.mem.Set(ck, p)
		metrics.CacheHits.WithLabelValues(TierRedis).Inc()
		return annotate(p, TierRedis)
	}

	rec, err := o.store.FindSubtitle(ctx, videoID, language)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		o.log.Error("tier-3 lookup failed", "video_id", videoID, "error", err)
	}
	if err != nil || rec == nil || rec.ExtractionStatus != model.ExtractionSuccess {
		metrics.CacheMisses.Inc()
		return nil
	}

	p := payloadFromRecord(rec)
	o.shared.Set(ctx, ck, p, o.resultTTL)
	o.mem.Set(ck, p)
	metrics.CacheHits.WithLabelValues(TierPostgres).Inc()
	return annotate(p, TierPostgres)
}

func (o *Orchestrator) sharedGet(ctx context.Context, key string) *model.SubtitlePayload {
	var p model.SubtitlePayload
	if !o.shared.Get(ctx, key, &p) {
		return nil
	}
	return &p
}

// payloadFromRecord rebuilds the response payload from a durable row.
func payloadFromRecord(rec *model.SubtitleRecord) *model.SubtitlePayload {
	return &model.SubtitlePayload{
		Success:          true,
		VideoID:          rec.VideoID,
		Title:            rec.Title,
		Language:         rec.Language,
		ExtractionMethod: rec.ExtractionMethod,
		SubtitleCount:    len(rec.Subtitles),
		DurationMS:       rec.ExtractionDurationMS,
		Subtitles:        rec.Subtitles,
		PlainText:        rec.PlainText,
		ProxyUsed:        rec.ProxyUsed,
		CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// GetCachedBatch resolves many video IDs in one pass over tiers 1 and 2.
// It never touches Postgres: a batch endpoint that can fan out to the durable
// store is a self-inflicted load spike. Misses are simply absent from the
// result map.
func (o *Orchestrator) GetCachedBatch(ctx context.Context, videoIDs []string, language string) map[string]*model.SubtitlePayload {
	out := make(map[string]*model.SubtitlePayload, len(videoIDs))

	ckByVideo := make(map[string]string, len(videoIDs))
	allKeys := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		ck := keys.Cache(id, language)
		ckByVideo[id] = ck
		allKeys = append(allKeys, ck)
	}

	memHits := o.mem.GetMany(allKeys)
	var remainder []string
	remainderVideo := make(map[string]string)
	for _, id := range videoIDs {
		ck := ckByVideo[id]
		if v, ok := memHits[ck]; ok {
			if p, ok := v.(*model.SubtitlePayload); ok {
				metrics.CacheHits.WithLabelValues(TierMemory).Inc()
				out[id] = annotate(p, TierMemory)
				continue
			}
		}
		remainder = append(remainder, ck)
		remainderVideo[ck] = id
	}
	if len(remainder) == 0 {
		return out
	}

	for ck, raw := range o.shared.GetMany(ctx, remainder) {
		var p model.SubtitlePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			o.log.Warn("undecodable cache entry", "key", ck, "error", err)
			continue
		}
		o.mem.Set(ck, &p)
		metrics.CacheHits.WithLabelValues(TierRedis).Inc()
		out[remainderVideo[ck]] = annotate(&p, TierRedis)
	}
	for _, ck := range remainder {
		if _, ok := out[remainderVideo[ck]]; !ok {
			metrics.CacheMisses.Inc()
		}
	}
	return out
}

// EnqueueRequest is one extraction admission.
type EnqueueRequest struct {
	VideoID      string
	Language     string
	CleanForAI   bool
	WebhookURL   string
	ClientIPHash string
	// Endpoint labels the extraction-request metric.
	Endpoint string
}

// EnqueueExtraction admits one extraction, deduplicating against work already
// in flight. When a pending durable job still exists in the queue its job ID
// is returned and reused reports true. A pending row whose queue job has
// vanished (queue flush, result TTL expiry) is marked stale and replaced.
func (o *Orchestrator) EnqueueExtraction(ctx context.Context, req EnqueueRequest) (jobID string, reused bool, err error) {
	metrics.ExtractionRequests.WithLabelValues(req.Endpoint).Inc()

	pending, err := o.store.FindPendingJob(ctx, req.VideoID, req.Language)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", false, err
	}
	if pending != nil {
		state, err := o.queue.Fetch(ctx, pending.JobID)
		if err != nil {
			return "", false, err
		}
		if state != nil {
			o.log.Info("reusing in-flight job",
				"video_id", req.VideoID, "job_id", pending.JobID)
			return pending.JobID, true, nil
		}
		// Durable row says pending but the queue has no trace of the job.
		if err := o.store.UpdateJobStatus(ctx, pending.JobID, model.JobStale, nil, "queue_job_missing"); err != nil {
			o.log.Error("failed to mark stale job", "job_id", pending.JobID, "error", err)
		}
	}

	jobID, err = o.queue.Enqueue(ctx, queue.Payload{
		VideoID:      req.VideoID,
		Language:     req.Language,
		CleanForAI:   req.CleanForAI,
		ClientIPHash: req.ClientIPHash,
	})
	if err != nil {
		return "", false, err
	}
	if err := o.store.CreateJob(ctx, req.VideoID, req.Language, jobID, req.WebhookURL); err != nil {
		return "", false, err
	}
	o.log.Info("extraction enqueued",
		"video_id", req.VideoID, "language", req.Language, "job_id", jobID)
	return jobID, false, nil
}

// JobStatus is the API view of a queued job.
type JobStatus struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	EnqueuedAt string          `json:"enqueued_at,omitempty"`
	EndedAt    string          `json:"ended_at,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"exc_info,omitempty"`
}

// GetJob reports the queue-side state of a job. Jobs the queue no longer
// knows (expired results, flushed queue) come back with status "not_found".
func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*JobStatus, error) {
	state, err := o.queue.Fetch(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &JobStatus{JobID: jobID, Status: "not_found"}, nil
	}
	return &JobStatus{
		JobID:      state.ID,
		Status:     state.Status,
		EnqueuedAt: state.EnqueuedAt,
		EndedAt:    state.EndedAt,
		Result:     state.Result,
		Error:      state.ExcInfo,
	}, nil
}
