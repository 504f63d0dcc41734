// oembed.go — video title lookup via YouTube's oEmbed endpoint.
package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const oembedTimeout = 5 * time.Second

// fetchTitle asks the oEmbed endpoint for the video title. Titles are
// cosmetic, so every failure maps to an empty string.
func fetchTitle(ctx context.Context, client *http.Client, videoID string) string {
	ctx, cancel := context.WithTimeout(ctx, oembedTimeout)
	defer cancel()

	url := "https://www.youtube.com/oembed?url=https://www.youtube.com/watch?v=" + videoID + "&format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Title
}
