// admin.go — authenticated operational endpoints.
package api

import (
	"net/http"

	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/logger"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/validate"
)

// handleCacheClear flushes both cache tiers. ?purge_db=true also deletes the
// durable records, which forces fresh extraction for every video.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deleted := s.shared.DeletePattern(ctx, "youtube:subtitle:*")
	s.mem.Clear()

	var dbDeleted int64
	if r.URL.Query().Get("purge_db") == "true" {
		n, err := s.store.ClearSubtitles(ctx, "")
		if err != nil {
			logger.FromContext(r.Context()).Error("cache purge: db delete failed", "error", err)
			internalError(w, r, "failed to purge database records")
			return
		}
		dbDeleted = n
	}

	logger.FromContext(r.Context()).Info("cache cleared", "redis_keys", deleted, "db_records", dbDeleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "cleared",
		"deleted_keys":       deleted,
		"deleted_db_records": dbDeleted,
		"timestamp":          model.UTCNowISO(),
	})
}

// handleCacheClearVideo evicts one video. With ?language= only that language
// entry goes; otherwise every language variant is swept.
func (s *Server) handleCacheClearVideo(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	if err := validate.VideoID("video_id", videoID); err != nil {
		badRequest(w, r, CodeInvalidVideoID, err.Error())
		return
	}
	ctx := r.Context()
	language := r.URL.Query().Get("language")

	var deleted int
	if language != "" {
		ck := keys.Cache(videoID, language)
		if s.shared.Delete(ctx, ck) {
			deleted++
		}
		s.mem.Delete(ck)
	} else {
		deleted = s.shared.DeletePattern(ctx, keys.Cache(videoID, "")+"*")
		// Tier 1 has no pattern delete; evict the default key and let TTL
		// catch stray language variants.
		s.mem.Delete(keys.Cache(videoID, ""))
		s.mem.Delete(keys.Cache(videoID, "en"))
	}

	var dbDeleted int64
	if r.URL.Query().Get("purge_db") == "true" {
		n, err := s.store.ClearSubtitles(ctx, videoID)
		if err != nil {
			logger.FromContext(r.Context()).Error("cache purge: db delete failed", "video_id", videoID, "error", err)
			internalError(w, r, "failed to purge database records")
			return
		}
		dbDeleted = n
	}

	logger.FromContext(r.Context()).Info("video cache cleared",
		"video_id", videoID, "language", language,
		"redis_keys", deleted, "db_records", dbDeleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "cleared",
		"video_id":           videoID,
		"deleted_keys":       deleted,
		"deleted_db_records": dbDeleted,
		"timestamp":          model.UTCNowISO(),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("queue stats failed", "error", err)
		writeError(w, r, apiError{
			Status:  http.StatusServiceUnavailable,
			Code:    CodeServiceUnavailable,
			Message: "queue is unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	stats, err := s.limiter.Stats(r.Context(), ip)
	if err != nil {
		logger.FromContext(r.Context()).Error("rate limit stats failed", "error", err)
		internalError(w, r, "failed to read rate limit state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"client_ip": ip,
		"limit":     s.limiter.RPM(),
		"burst":     s.limiter.Burst(),
		"buckets":   stats,
	})
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	deleted, err := s.limiter.Reset(r.Context(), ip)
	if err != nil {
		logger.FromContext(r.Context()).Error("rate limit reset failed", "error", err)
		internalError(w, r, "failed to reset rate limit state")
		return
	}
	logger.FromContext(r.Context()).Info("rate limit reset", "client_ip", keys.HashIP(ip), "buckets", deleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "reset",
		"client_ip":       ip,
		"buckets_cleared": deleted,
		"timestamp":       model.UTCNowISO(),
	})
}
