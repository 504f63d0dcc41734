// Package store is the durable tier: Postgres persistence for subtitle
// records and extraction jobs, scoped to a configurable schema.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect builds a pgx pool bound to the given schema. The schema name is
// validated by config.Load before it reaches the search_path setting.
func Connect(ctx context.Context, databaseURL, schema string, poolSize int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the schema and, when createTables is set, the tables
// and indices. Every statement is idempotent so repeated boots are safe.
// Production deployments run migrations out of band and leave createTables
// off (DB_AUTO_CREATE=false).
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string, createTables bool, log *slog.Logger) error {
	if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if !createTables {
		return nil
	}
	for _, stmt := range ddlStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}
	log.Info("database schema initialized", "schema", schema)
	return nil
}

// ddlStatements create the two tables and their indices. They run inside the
// schema via search_path, so names are unqualified.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS subtitle_records (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		video_id VARCHAR(11) NOT NULL,
		title VARCHAR(255),
		duration_seconds INTEGER,
		subtitles JSONB,
		plain_text TEXT,
		language VARCHAR(10) NOT NULL DEFAULT 'en',
		auto_generated BOOLEAN NOT NULL DEFAULT FALSE,
		extraction_method VARCHAR(50) NOT NULL,
		extraction_duration_ms INTEGER,
		extraction_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		extraction_error VARCHAR(500),
		proxy_used VARCHAR(255),
		checksum VARCHAR(64),
		created_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc'),
		updated_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc'),
		expires_at TIMESTAMP,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry_at TIMESTAMP,
		CONSTRAINT uq_video_language UNIQUE (video_id, language)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_subtitle_video_id ON subtitle_records (video_id)`,
	`CREATE INDEX IF NOT EXISTS ix_subtitle_created_at ON subtitle_records (created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_subtitle_status ON subtitle_records (extraction_status)`,

	`CREATE TABLE IF NOT EXISTS extraction_jobs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		video_id VARCHAR(11) NOT NULL,
		language VARCHAR(10) NOT NULL DEFAULT 'en',
		job_id VARCHAR(64) NOT NULL UNIQUE,
		job_status VARCHAR(20) NOT NULL DEFAULT 'queued',
		result_data JSONB,
		error_message VARCHAR(500),
		webhook_url VARCHAR(500),
		webhook_delivered BOOLEAN NOT NULL DEFAULT FALSE,
		webhook_delivery_status VARCHAR(50),
		webhook_delivery_error VARCHAR(500),
		created_at TIMESTAMP NOT NULL DEFAULT (NOW() AT TIME ZONE 'utc'),
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		duration_seconds DOUBLE PRECISION,
		attempt INTEGER NOT NULL DEFAULT 1,
		max_attempts INTEGER NOT NULL DEFAULT 3
	)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_video_id ON extraction_jobs (video_id)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_status ON extraction_jobs (job_status)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_created_at ON extraction_jobs (created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_pending ON extraction_jobs (video_id, language, job_status)`,
	`CREATE INDEX IF NOT EXISTS ix_jobs_webhook_status ON extraction_jobs (webhook_delivery_status)`,
}
