// primary.go — watch-page engine.
//
// Scrapes the ytInitialPlayerResponse blob from the public watch page and
// follows its caption track URLs. This is the transcript-listing route and
// covers manual and generated tracks without any API key.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tubetext/tubetext/internal/model"
)

// playerResponseMarker precedes the embedded JSON blob on the watch page.
var playerResponseMarker = []byte("ytInitialPlayerResponse = ")

// WatchPageEngine extracts subtitles by scraping the video watch page.
type WatchPageEngine struct {
	baseURL string
}

// NewWatchPageEngine creates the primary engine. baseURL overrides the
// YouTube origin in tests; empty means production.
func NewWatchPageEngine(baseURL string) *WatchPageEngine {
	if baseURL == "" {
		baseURL = "https://www.youtube.com"
	}
	return &WatchPageEngine{baseURL: baseURL}
}

func (e *WatchPageEngine) Name() string { return model.MethodPrimary }

func (e *WatchPageEngine) Fetch(ctx context.Context, client *http.Client, videoID, language string) (*Result, error) {
	body, err := fetchBody(ctx, client, e.baseURL+"/watch?v="+videoID)
	if err != nil {
		return nil, err
	}

	pr, err := parseWatchPage(body)
	if err != nil {
		return nil, err
	}
	if err := checkPlayability(pr); err != nil {
		return nil, err
	}
	track, err := pickTrack(pr.Captions.Renderer.CaptionTracks, language)
	if err != nil {
		return nil, err
	}

	raw, err := downloadTrack(ctx, client, track)
	if err != nil {
		return nil, err
	}
	segments, err := ParseJSON3(raw)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, ErrNoTranscriptFound
	}
	return &Result{
		Title:         pr.VideoDetails.Title,
		Segments:      segments,
		AutoGenerated: track.autoGenerated(),
	}, nil
}

// parseWatchPage locates the player response blob and decodes exactly one
// JSON value from it, ignoring the script text that follows.
func parseWatchPage(body []byte) (*playerResponse, error) {
	idx := bytes.Index(body, playerResponseMarker)
	if idx < 0 {
		// Consent walls and region blocks serve a page without the blob.
		return nil, fmt.Errorf("player response not found on watch page")
	}
	dec := json.NewDecoder(bytes.NewReader(body[idx+len(playerResponseMarker):]))
	var pr playerResponse
	if err := dec.Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	return &pr, nil
}
