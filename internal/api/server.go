// server.go — HTTP surface wiring.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tubetext/tubetext/internal/auth"
	"github.com/tubetext/tubetext/internal/config"
	"github.com/tubetext/tubetext/internal/memcache"
	"github.com/tubetext/tubetext/internal/metrics"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/orchestrator"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/ratelimit"
	"github.com/tubetext/tubetext/pkg/telemetry"
)

// Version is reported by /status and health responses.
const Version = "1.0.0"

// Subtitles is the orchestrator surface the handlers call.
type Subtitles interface {
	GetCached(ctx context.Context, videoID, language string) *model.SubtitlePayload
	GetCachedBatch(ctx context.Context, videoIDs []string, language string) map[string]*model.SubtitlePayload
	EnqueueExtraction(ctx context.Context, req orchestrator.EnqueueRequest) (jobID string, reused bool, err error)
	GetJob(ctx context.Context, jobID string) (*orchestrator.JobStatus, error)
}

// SharedCacheAdmin is what the admin cache endpoints need from Redis.
type SharedCacheAdmin interface {
	DeletePattern(ctx context.Context, pattern string) int
	Delete(ctx context.Context, key string) bool
	Ping(ctx context.Context) error
}

// MemCacheAdmin is what the admin and health endpoints need from the
// in-process tier.
type MemCacheAdmin interface {
	Delete(key string) bool
	Clear()
	Size() int
	Stats() memcache.Stats
}

// StoreAdmin is the durable-store surface for health and admin purges.
type StoreAdmin interface {
	Ping(ctx context.Context) error
	ClearSubtitles(ctx context.Context, videoID string) (int64, error)
}

// QueueInspector reports queue health for the admin stats endpoint.
type QueueInspector interface {
	Stats(ctx context.Context) (*queue.Stats, error)
}

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Config
	subtitles Subtitles
	shared    SharedCacheAdmin
	mem       MemCacheAdmin
	store     StoreAdmin
	queue     QueueInspector
	limiter   *ratelimit.Limiter
	guard     *auth.Guard
	log       *slog.Logger
}

func NewServer(
	cfg *config.Config,
	subtitles Subtitles,
	shared SharedCacheAdmin,
	mem MemCacheAdmin,
	store StoreAdmin,
	q QueueInspector,
	limiter *ratelimit.Limiter,
	guard *auth.Guard,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		subtitles: subtitles,
		shared:    shared,
		mem:       mem,
		store:     store,
		queue:     q,
		limiter:   limiter,
		guard:     guard,
		log:       log,
	}
}

// Handler builds the full middleware chain and route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/subtitles", s.guard.RequireAPIKey(http.HandlerFunc(s.handleExtract)))
	mux.HandleFunc("GET /api/v1/subtitles/{video_id}", s.guard.RequireAPIKey(http.HandlerFunc(s.handleGetSubtitle)))
	mux.HandleFunc("POST /api/v1/subtitles/batch", s.guard.RequireAPIKey(http.HandlerFunc(s.handleBatch)))
	// Deprecated alias kept for old clients.
	mux.HandleFunc("POST /api/v1/rewrite-video", s.guard.RequireAPIKey(http.HandlerFunc(s.handleExtract)))
	mux.HandleFunc("GET /api/v1/job/{job_id}", s.guard.RequireAPIKey(http.HandlerFunc(s.handleGetJob)))

	mux.HandleFunc("POST /api/v1/admin/cache/clear", s.guard.RequireAdmin(http.HandlerFunc(s.handleCacheClear)))
	mux.HandleFunc("DELETE /api/v1/admin/cache/clear/{video_id}", s.guard.RequireAdmin(http.HandlerFunc(s.handleCacheClearVideo)))
	mux.HandleFunc("GET /api/v1/admin/queue/stats", s.guard.RequireAdmin(http.HandlerFunc(s.handleQueueStats)))
	mux.HandleFunc("GET /api/v1/admin/rate-limit/stats/{ip}", s.guard.RequireAdmin(http.HandlerFunc(s.handleRateLimitStats)))
	mux.HandleFunc("POST /api/v1/admin/rate-limit/reset/{ip}", s.guard.RequireAdmin(http.HandlerFunc(s.handleRateLimitReset)))

	var h http.Handler = mux
	h = withRateLimit(s.limiter, h)
	h = metrics.Middleware(h)
	h = withCORS(s.cfg.AllowedOrigins, h)
	h = withVersionRedirect(h)
	h = telemetry.PanicRecoveryMiddleware(s.cfg.ServiceName)(h)
	h = withRequestID(s.log, h)
	return h
}
