// Package queue is a Redis-backed job queue: a list carries pending job IDs
// and a hash per job carries its state and result. Registries (sets) track
// in-flight and failed jobs for the stats endpoint.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tubetext/tubetext/internal/model"
)

// Job status values, visible through the jobs API.
const (
	StatusQueued    = "queued"
	StatusStarted   = "started"
	StatusDeferred  = "deferred"
	StatusScheduled = "scheduled"
	StatusFinished  = "finished"
	StatusFailed    = "failed"
)

// Payload is the work order a job carries.
type Payload struct {
	VideoID      string `json:"video_id"`
	Language     string `json:"language"`
	CleanForAI   bool   `json:"clean_for_ai"`
	ClientIPHash string `json:"client_ip_hash,omitempty"`
}

// JobState is a point-in-time view of one job.
type JobState struct {
	ID         string
	Status     string
	Payload    Payload
	EnqueuedAt string
	EndedAt    string
	Result     json.RawMessage
	ExcInfo    string
}

// Stats summarizes queue health.
type Stats struct {
	QueueName     string `json:"queue_name"`
	QueueDepth    int64  `json:"queue_depth"`
	StartedJobs   int64  `json:"started_jobs"`
	FailedJobs    int64  `json:"failed_jobs"`
	DeferredJobs  int64  `json:"deferred_jobs"`
	ScheduledJobs int64  `json:"scheduled_jobs"`
}

// Queue wraps a Redis client with named-queue operations.
type Queue struct {
	rdb       *goredis.Client
	name      string
	resultTTL time.Duration
	log       *slog.Logger
}

// New creates a Queue. resultTTL bounds how long finished and failed job
// state stays readable.
func New(rdb *goredis.Client, name string, resultTTL time.Duration, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{rdb: rdb, name: name, resultTTL: resultTTL, log: log}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) listKey() string             { return "queue:" + q.name }
func (q *Queue) jobKey(jobID string) string  { return "queue:" + q.name + ":job:" + jobID }
func (q *Queue) registry(name string) string { return "queue:" + q.name + ":" + name }

// Enqueue stores the job hash and pushes its ID onto the list. The returned
// job ID is the durable reference clients poll with.
func (q *Queue) Enqueue(ctx context.Context, payload Payload) (string, error) {
	jobID := uuid.NewString()
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID),
		"status", StatusQueued,
		"payload", string(data),
		"enqueued_at", model.UTCNowISO())
	pipe.Expire(ctx, q.jobKey(jobID), q.resultTTL)
	pipe.LPush(ctx, q.listKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// Fetch returns the state of a job, or nil when the queue has forgotten it
// (expired result or never enqueued).
func (q *Queue) Fetch(ctx context.Context, jobID string) (*JobState, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	state := &JobState{
		ID:         jobID,
		Status:     fields["status"],
		EnqueuedAt: fields["enqueued_at"],
		EndedAt:    fields["ended_at"],
		ExcInfo:    fields["exc_info"],
	}
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if raw := fields["result"]; raw != "" {
		state.Result = json.RawMessage(raw)
	}
	return state, nil
}

// Dequeue blocks up to wait for the next job, marks it started, and returns
// it. A nil state with nil error means the wait elapsed with nothing queued.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*JobState, error) {
	res, err := q.rdb.BRPop(ctx, wait, q.listKey()).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	jobID := res[1]

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), "status", StatusStarted)
	pipe.SAdd(ctx, q.registry(StatusStarted), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("failed to mark job started", "job_id", jobID, "error", err)
	}
	return q.Fetch(ctx, jobID)
}

// MarkFinished records a successful result and retires the job from the
// started registry. The result stays readable for the result TTL.
func (q *Queue) MarkFinished(ctx context.Context, jobID string, result []byte) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID),
		"status", StatusFinished,
		"ended_at", model.UTCNowISO(),
		"result", string(result))
	pipe.Expire(ctx, q.jobKey(jobID), q.resultTTL)
	pipe.SRem(ctx, q.registry(StatusStarted), jobID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	return nil
}

// MarkFailed records a failure with its error text.
func (q *Queue) MarkFailed(ctx context.Context, jobID, excInfo string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID),
		"status", StatusFailed,
		"ended_at", model.UTCNowISO(),
		"exc_info", excInfo)
	pipe.Expire(ctx, q.jobKey(jobID), q.resultTTL)
	pipe.SRem(ctx, q.registry(StatusStarted), jobID)
	pipe.SAdd(ctx, q.registry(StatusFailed), jobID)
	pipe.Expire(ctx, q.registry(StatusFailed), q.resultTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// Stats reports queue depth and registry sizes.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.rdb.Pipeline()
	depth := pipe.LLen(ctx, q.listKey())
	started := pipe.SCard(ctx, q.registry(StatusStarted))
	failed := pipe.SCard(ctx, q.registry(StatusFailed))
	deferred := pipe.SCard(ctx, q.registry(StatusDeferred))
	scheduled := pipe.SCard(ctx, q.registry(StatusScheduled))
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &Stats{
		QueueName:     q.name,
		QueueDepth:    depth.Val(),
		StartedJobs:   started.Val(),
		FailedJobs:    failed.Val(),
		DeferredJobs:  deferred.Val(),
		ScheduledJobs: scheduled.Val(),
	}, nil
}
