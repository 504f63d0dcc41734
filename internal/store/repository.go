// repository.go — queries for subtitle records and extraction jobs.
// All statements run unqualified against the pool's search_path schema.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tubetext/tubetext/internal/model"
)

// subtitleTTLDays is how long a successful record stays fresh before the
// cleanup job may reap it.
const subtitleTTLDays = 30

// errTruncateLen bounds stored error text.
const errTruncateLen = 500

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Repository wraps a pgx pool with typed operations.
type Repository struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{db: db, log: log}
}

// Ping reports database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

const subtitleColumns = `id, video_id, language, COALESCE(title, ''), COALESCE(duration_seconds, 0),
	subtitles, COALESCE(plain_text, ''), auto_generated, extraction_method,
	COALESCE(extraction_duration_ms, 0), extraction_status, COALESCE(extraction_error, ''),
	COALESCE(proxy_used, ''), COALESCE(checksum, ''), retry_count,
	created_at, updated_at, COALESCE(expires_at, 'epoch'::timestamp)`

// FindSubtitle returns the record for (videoID, language) or ErrNotFound.
func (r *Repository) FindSubtitle(ctx context.Context, videoID, language string) (*model.SubtitleRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subtitleColumns+` FROM subtitle_records WHERE video_id = $1 AND language = $2`,
		videoID, language)
	return scanSubtitle(row)
}

func scanSubtitle(row pgx.Row) (*model.SubtitleRecord, error) {
	var rec model.SubtitleRecord
	var rawSegments []byte
	err := row.Scan(
		&rec.ID, &rec.VideoID, &rec.Language, &rec.Title, &rec.DurationSeconds,
		&rawSegments, &rec.PlainText, &rec.AutoGenerated, &rec.ExtractionMethod,
		&rec.ExtractionDurationMS, &rec.ExtractionStatus, &rec.ExtractionError,
		&rec.ProxyUsed, &rec.Checksum, &rec.RetryCount,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subtitle record: %w", err)
	}
	if len(rawSegments) > 0 {
		if err := json.Unmarshal(rawSegments, &rec.Subtitles); err != nil {
			return nil, fmt.Errorf("decode subtitle segments: %w", err)
		}
	}
	return &rec, nil
}

// UpsertSubtitle atomically creates or replaces the record for the video and
// language, marks it successful, and pushes expires_at 30 days out.
func (r *Repository) UpsertSubtitle(ctx context.Context, rec *model.SubtitleRecord) error {
	segments, err := json.Marshal(rec.Subtitles)
	if err != nil {
		return fmt.Errorf("encode subtitle segments: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO subtitle_records (
			video_id, language, title, duration_seconds, subtitles, plain_text,
			auto_generated, extraction_method, extraction_duration_ms,
			extraction_status, extraction_error, proxy_used, checksum, expires_at
		) VALUES (
			$1, $2, NULLIF($3, ''), NULLIF($4, 0), $5::jsonb, $6,
			$7, $8, $9,
			'success', NULL, NULLIF($10, ''), NULLIF($11, ''),
			(NOW() AT TIME ZONE 'utc') + make_interval(days => $12)
		)
		ON CONFLICT ON CONSTRAINT uq_video_language DO UPDATE SET
			title = EXCLUDED.title,
			duration_seconds = EXCLUDED.duration_seconds,
			subtitles = EXCLUDED.subtitles,
			plain_text = EXCLUDED.plain_text,
			auto_generated = EXCLUDED.auto_generated,
			extraction_method = EXCLUDED.extraction_method,
			extraction_duration_ms = EXCLUDED.extraction_duration_ms,
			extraction_status = 'success',
			extraction_error = NULL,
			proxy_used = EXCLUDED.proxy_used,
			checksum = EXCLUDED.checksum,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW() AT TIME ZONE 'utc'`,
		rec.VideoID, rec.Language, rec.Title, rec.DurationSeconds, string(segments), rec.PlainText,
		rec.AutoGenerated, rec.ExtractionMethod, rec.ExtractionDurationMS,
		rec.ProxyUsed, rec.Checksum, subtitleTTLDays,
	)
	if err != nil {
		return fmt.Errorf("upsert subtitle: %w", err)
	}
	return nil
}

// MarkSubtitleFailed records a failed extraction, creating a stub row when no
// record exists yet. Error text is truncated to the column width.
func (r *Repository) MarkSubtitleFailed(ctx context.Context, videoID, language, method, errText string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subtitle_records (video_id, language, extraction_method, extraction_status, extraction_error)
		VALUES ($1, $2, $3, 'failed', $4)
		ON CONFLICT ON CONSTRAINT uq_video_language DO UPDATE SET
			extraction_status = 'failed',
			extraction_method = EXCLUDED.extraction_method,
			extraction_error = EXCLUDED.extraction_error,
			retry_count = subtitle_records.retry_count + 1,
			last_retry_at = NOW() AT TIME ZONE 'utc',
			updated_at = NOW() AT TIME ZONE 'utc'`,
		videoID, language, method, truncate(errText, errTruncateLen),
	)
	if err != nil {
		return fmt.Errorf("mark subtitle failed: %w", err)
	}
	return nil
}

const jobColumns = `id, video_id, language, job_id, job_status, result_data,
	COALESCE(error_message, ''), COALESCE(webhook_url, ''), webhook_delivered,
	COALESCE(webhook_delivery_status, ''), COALESCE(webhook_delivery_error, ''),
	created_at, started_at, completed_at, duration_seconds, attempt, max_attempts`

func scanJob(row pgx.Row) (*model.ExtractionJob, error) {
	var job model.ExtractionJob
	err := row.Scan(
		&job.ID, &job.VideoID, &job.Language, &job.JobID, &job.Status, &job.ResultJSON,
		&job.ErrorMessage, &job.WebhookURL, &job.WebhookDelivered,
		&job.WebhookStatus, &job.WebhookDeliveryError,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.DurationSeconds,
		&job.Attempt, &job.MaxAttempts,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan extraction job: %w", err)
	}
	return &job, nil
}

// FindPendingJob returns the most recent queued or processing job for the
// video and language, or ErrNotFound. Served by the composite index.
func (r *Repository) FindPendingJob(ctx context.Context, videoID, language string) (*model.ExtractionJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
		 WHERE video_id = $1 AND language = $2 AND job_status IN ('queued', 'processing')
		 ORDER BY created_at DESC LIMIT 1`,
		videoID, language)
	return scanJob(row)
}

// CreateJob inserts a queued job row referencing the queue's job ID.
func (r *Repository) CreateJob(ctx context.Context, videoID, language, jobID, webhookURL string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO extraction_jobs (video_id, language, job_id, job_status, webhook_url)
		VALUES ($1, $2, $3, 'queued', NULLIF($4, ''))`,
		videoID, language, jobID, webhookURL)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns the job row for a queue job ID or ErrNotFound.
func (r *Repository) GetJob(ctx context.Context, jobID string) (*model.ExtractionJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

// statusRank orders the job lifecycle for the monotonic-transition guard.
// Terminal states share the top rank so one can never overwrite another.
func statusRank(status string) int {
	switch status {
	case model.JobQueued:
		return 0
	case model.JobProcessing:
		return 1
	default:
		return 2
	}
}

// UpdateJobStatus advances a job's status. Transitions only move forward:
// a terminal job is never resurrected and processing never returns to
// queued. started_at is stamped on the first entry into processing;
// completed_at and duration_seconds on entry into any terminal state.
func (r *Repository) UpdateJobStatus(ctx context.Context, jobID, status string, result []byte, errMsg string) error {
	job, err := r.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if statusRank(status) <= statusRank(job.Status) && status != job.Status {
		r.log.Warn("ignoring backwards job transition",
			"job_id", jobID, "from", job.Status, "to", status)
		return nil
	}
	if model.TerminalJobStatus(job.Status) {
		return nil
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE extraction_jobs SET
			job_status = $2,
			started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL
				THEN NOW() AT TIME ZONE 'utc' ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'timeout', 'stale')
				THEN NOW() AT TIME ZONE 'utc' ELSE completed_at END,
			duration_seconds = CASE WHEN $2 IN ('completed', 'failed', 'timeout', 'stale') AND started_at IS NOT NULL
				THEN EXTRACT(EPOCH FROM (NOW() AT TIME ZONE 'utc') - started_at) ELSE duration_seconds END,
			result_data = COALESCE($3::jsonb, result_data),
			error_message = COALESCE(NULLIF($4, ''), error_message)
		WHERE job_id = $1 AND job_status NOT IN ('completed', 'failed', 'timeout', 'stale')`,
		jobID, status, nullableJSON(result), truncate(errMsg, errTruncateLen))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Debug("job status update raced a terminal transition", "job_id", jobID, "to", status)
	}
	return nil
}

// UpdateWebhookDelivery records the outcome of a webhook delivery attempt.
func (r *Repository) UpdateWebhookDelivery(ctx context.Context, jobID string, delivered bool, status, errText string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE extraction_jobs SET
			webhook_delivered = $2,
			webhook_delivery_status = $3,
			webhook_delivery_error = NULLIF($4, '')
		WHERE job_id = $1`,
		jobID, delivered, status, truncate(errText, errTruncateLen))
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	return nil
}

// ListPendingWebhookJobs returns finished jobs whose webhook has not been
// delivered yet, oldest completion first.
func (r *Repository) ListPendingWebhookJobs(ctx context.Context, limit int) ([]*model.ExtractionJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
		 WHERE webhook_url IS NOT NULL
		   AND webhook_delivered = FALSE
		   AND job_status IN ('completed', 'failed', 'timeout', 'stale')
		 ORDER BY completed_at ASC NULLS LAST LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending webhook jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ExtractionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClearSubtitles deletes subtitle records, optionally scoped to one video.
// Returns the number of rows removed.
func (r *Repository) ClearSubtitles(ctx context.Context, videoID string) (int64, error) {
	var tag interface{ RowsAffected() int64 }
	var err error
	if videoID != "" {
		tag, err = r.db.Exec(ctx, `DELETE FROM subtitle_records WHERE video_id = $1`, videoID)
	} else {
		tag, err = r.db.Exec(ctx, `DELETE FROM subtitle_records`)
	}
	if err != nil {
		return 0, fmt.Errorf("clear subtitles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpiredSubtitles reaps records past their expires_at.
func (r *Repository) DeleteExpiredSubtitles(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM subtitle_records WHERE expires_at IS NOT NULL AND expires_at < $1`,
		now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired subtitles: %w", err)
	}
	return tag.RowsAffected(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// nullableJSON maps an empty payload to SQL NULL so COALESCE keeps the
// existing column value.
func nullableJSON(b []byte) *string {
	if len(b) == 0 {
		return nil
	}
	s := string(b)
	return &s
}
