// fallback.go — innertube player engine.
//
// Calls the same player endpoint the mobile clients use. It succeeds on
// some videos the watch page refuses to serve, which is exactly the job of
// a fallback.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tubetext/tubetext/internal/model"
)

// innertubeClientVersion tracks the Android client. Needs an occasional bump
// when YouTube retires old versions.
const innertubeClientVersion = "19.09.37"

// InnertubeEngine extracts subtitles through the innertube player API.
type InnertubeEngine struct {
	baseURL string
}

// NewInnertubeEngine creates the fallback engine. baseURL overrides the
// production origin in tests.
func NewInnertubeEngine(baseURL string) *InnertubeEngine {
	if baseURL == "" {
		baseURL = "https://www.youtube.com"
	}
	return &InnertubeEngine{baseURL: baseURL}
}

func (e *InnertubeEngine) Name() string { return model.MethodFallback }

type innertubeRequest struct {
	Context struct {
		Client struct {
			ClientName        string `json:"clientName"`
			ClientVersion     string `json:"clientVersion"`
			AndroidSDKVersion int    `json:"androidSdkVersion"`
			HL                string `json:"hl"`
		} `json:"client"`
	} `json:"context"`
	VideoID string `json:"videoId"`
}

func (e *InnertubeEngine) Fetch(ctx context.Context, client *http.Client, videoID, language string) (*Result, error) {
	var reqBody innertubeRequest
	reqBody.Context.Client.ClientName = "ANDROID"
	reqBody.Context.Client.ClientVersion = innertubeClientVersion
	reqBody.Context.Client.AndroidSDKVersion = 30
	reqBody.Context.Client.HL = language
	reqBody.VideoID = videoID

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	url := e.baseURL + "/youtubei/v1/player"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "com.google.android.youtube/"+innertubeClientVersion+" (Linux; U; Android 11) gzip")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var pr playerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("decode player response: %w", err)
	}
	if err := checkPlayability(&pr); err != nil {
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
