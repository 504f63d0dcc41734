// player.go — shared decoding of YouTube player responses.
// Both engines end up with the same structure: a playability status, video
// details, and a caption track list. Track selection lives here so the
// engines stay thin.
package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		LengthSeconds string `json:"lengthSeconds"`
	} `json:"videoDetails"`
	Captions struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
	VSSID        string `json:"vssId"`
}

// autoGenerated reports whether a track is machine-produced.
func (t captionTrack) autoGenerated() bool { return t.Kind == "asr" }

// checkPlayability maps player status to the permanent error taxonomy.
func checkPlayability(pr *playerResponse) error {
	switch pr.PlayabilityStatus.Status {
	case "", "OK":
		return nil
	case "LOGIN_REQUIRED", "UNPLAYABLE", "ERROR":
		return fmt.Errorf("%w: %s", ErrVideoUnavailable, pr.PlayabilityStatus.Reason)
	default:
		return nil
	}
}

// pickTrack selects the best caption track for a language: a manual track in
// the exact language, then a generated one, then a base-language prefix
// match, then anything at all. No tracks at all means captions are off.
func pickTrack(tracks []captionTrack, language string) (*captionTrack, error) {
	if len(tracks) == 0 {
		return nil, ErrTranscriptsDisabled
	}
	for i := range tracks {
		if tracks[i].LanguageCode == language && !tracks[i].autoGenerated() {
			return &tracks[i], nil
		}
	}
	for i := range tracks {
		if tracks[i].LanguageCode == language {
			return &tracks[i], nil
		}
	}
	for i := range tracks {
		if len(tracks[i].LanguageCode) >= 2 && len(language) >= 2 &&
			tracks[i].LanguageCode[:2] == language[:2] {
			return &tracks[i], nil
		}
	}
	return &tracks[0], nil
}

// fetchBody GETs a URL and returns the body, mapping non-2xx to HTTPError.
func fetchBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	return io.ReadAll(resp.Body)
}

// downloadTrack fetches a caption track as json3 segments.
func downloadTrack(ctx context.Context, client *http.Client, track *captionTrack) ([]byte, error) {
	url := track.BaseURL
	if url == "" {
		return nil, ErrNoTranscriptFound
	}
	return fetchBody(ctx, client, url+"&fmt=json3")
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
