// handlers.go — public endpoints: health, subtitles, batch, job lookup.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tubetext/tubetext/internal/auth"
	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/logger"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/orchestrator"
	"github.com/tubetext/tubetext/internal/validate"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service":     s.cfg.ServiceName,
		"version":     Version,
		"environment": s.cfg.Environment,
		"timestamp":   model.UTCNowISO(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{"redis": "ok", "postgres": "ok"}
	healthy := true

	if err := s.shared.Ping(ctx); err != nil {
		components["redis"] = "error: " + err.Error()
		healthy = false
	}
	if err := s.store.Ping(ctx); err != nil {
		components["postgres"] = "error: " + err.Error()
		healthy = false
	}

	stats := s.mem.Stats()
	body := map[string]any{
		"status":     "healthy",
		"version":    Version,
		"components": components,
		"memory_cache": map[string]any{
			"size":     s.mem.Size(),
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"hit_rate": stats.HitRate(),
		},
		"timestamp": model.UTCNowISO(),
	}
	status := http.StatusOK
	if !healthy {
		body["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

// extractRequest is the POST /api/v1/subtitles body. video_url and url are
// accepted as aliases of video_id for old clients.
type extractRequest struct {
	VideoID    string `json:"video_id"`
	VideoURL   string `json:"video_url"`
	URL        string `json:"url"`
	Language   string `json:"language"`
	CleanForAI *bool  `json:"clean_for_ai"`
	WebhookURL string `json:"webhook_url"`
}

func (req *extractRequest) videoRef() string {
	switch {
	case req.VideoID != "":
		return req.VideoID
	case req.VideoURL != "":
		return req.VideoURL
	default:
		return req.URL
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("request body is not valid JSON")
	}
	return nil
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}

	videoID, err := validate.VideoURLOrID("video_id", req.videoRef())
	if err != nil {
		badRequest(w, r, CodeInvalidVideoID, err.Error())
		return
	}
	language := req.Language
	if language == "" {
		language = "en"
	}
	if err := validate.LanguageCode("language", language); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}
	if req.WebhookURL != "" {
		if err := validate.WebhookURL("webhook_url", req.WebhookURL); err != nil {
			badRequest(w, r, CodeInvalidRequest, err.Error())
			return
		}
	}
	cleanForAI := true
	if req.CleanForAI != nil {
		cleanForAI = *req.CleanForAI
	}

	ctx := r.Context()
	if payload := s.subtitles.GetCached(ctx, videoID, language); payload != nil {
		writeJSON(w, http.StatusOK, payload)
		return
	}

	jobID, _, err := s.subtitles.EnqueueExtraction(ctx, orchestrator.EnqueueRequest{
		VideoID:      videoID,
		Language:     language,
		CleanForAI:   cleanForAI,
		WebhookURL:   req.WebhookURL,
		ClientIPHash: keys.HashIP(auth.ClientIP(r)),
		Endpoint:     r.URL.Path,
	})
	if err != nil {
		logger.FromContext(r.Context()).Error("enqueue failed", "video_id", videoID, "error", err)
		internalError(w, r, "failed to queue extraction")
		return
	}

	resp := map[string]any{
		"job_id":   jobID,
		"status":   "queued",
		"video_id": videoID,
		"language": language,
	}
	if req.WebhookURL != "" {
		resp["webhook_url"] = req.WebhookURL
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetSubtitle(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("video_id")
	if err := validate.VideoID("video_id", videoID); err != nil {
		badRequest(w, r, CodeInvalidVideoID, err.Error())
		return
	}
	language := r.URL.Query().Get("language")
	if language == "" {
		language = "en"
	}
	if err := validate.LanguageCode("language", language); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}

	payload := s.subtitles.GetCached(r.Context(), videoID, language)
	if payload == nil {
		writeError(w, r, apiError{
			Status:  http.StatusNotFound,
			Code:    CodeSubtitleNotFound,
			Message: "no cached subtitles for this video",
			Hint:    "POST /api/v1/subtitles to queue an extraction",
		})
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

type batchRequest struct {
	VideoIDs   []string `json:"video_ids"`
	Language   string   `json:"language"`
	CleanForAI *bool    `json:"clean_for_ai"`
	WebhookURL string   `json:"webhook_url"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}
	if err := validate.BatchSize("video_ids", len(req.VideoIDs)); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}
	language := req.Language
	if language == "" {
		language = "en"
	}
	if err := validate.LanguageCode("language", language); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}
	if req.WebhookURL != "" {
		if err := validate.WebhookURL("webhook_url", req.WebhookURL); err != nil {
			badRequest(w, r, CodeInvalidRequest, err.Error())
			return
		}
	}
	cleanForAI := true
	if req.CleanForAI != nil {
		cleanForAI = *req.CleanForAI
	}

	videoIDs := make([]string, 0, len(req.VideoIDs))
	for _, ref := range req.VideoIDs {
		id, err := validate.VideoURLOrID("video_ids", ref)
		if err != nil {
			badRequest(w, r, CodeInvalidVideoID, "invalid video reference: "+ref)
			return
		}
		videoIDs = append(videoIDs, id)
	}

	ctx := r.Context()
	hits := s.subtitles.GetCachedBatch(ctx, videoIDs, language)
	ipHash := keys.HashIP(auth.ClientIP(r))

	cached := make([]*model.SubtitlePayload, 0, len(hits))
	jobIDs := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		if payload, ok := hits[id]; ok {
			cached = append(cached, payload)
			continue
		}
		jobID, _, err := s.subtitles.EnqueueExtraction(ctx, orchestrator.EnqueueRequest{
			VideoID:      id,
			Language:     language,
			CleanForAI:   cleanForAI,
			WebhookURL:   req.WebhookURL,
			ClientIPHash: ipHash,
			Endpoint:     r.URL.Path,
		})
		if err != nil {
			logger.FromContext(r.Context()).Error("batch enqueue failed", "video_id", id, "error", err)
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "queued",
		"video_count":  len(videoIDs),
		"queued_count": len(jobIDs),
		"cached_count": len(cached),
		"job_ids":      jobIDs,
		"cached":       cached,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if err := validate.NonEmptyString("job_id", jobID); err != nil {
		badRequest(w, r, CodeInvalidRequest, err.Error())
		return
	}
	status, err := s.subtitles.GetJob(r.Context(), jobID)
	if err != nil {
		logger.FromContext(r.Context()).Error("job lookup failed", "job_id", jobID, "error", err)
		internalError(w, r, "failed to look up job")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
