// json3.go — decoder for YouTube's json3 timedtext format.
package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tubetext/tubetext/internal/model"
)

type json3Payload struct {
	Events []json3Event `json:"events"`
}

type json3Event struct {
	StartMs    int64       `json:"tStartMs"`
	DurationMs int64       `json:"dDurationMs"`
	Segs       []json3Seg  `json:"segs"`
	WinID      interface{} `json:"wWinId"`
}

type json3Seg struct {
	UTF8 string `json:"utf8"`
}

// ParseJSON3 converts a json3 timedtext document into segments. Events with
// no segs (window definitions) or empty text are skipped. Timestamps come
// back in seconds.
func ParseJSON3(data []byte) ([]model.Segment, error) {
	var payload json3Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode json3: %w", err)
	}
	var out []model.Segment
	for _, ev := range payload.Events {
		if len(ev.Segs) == 0 {
			continue
		}
		var b strings.Builder
		for _, seg := range ev.Segs {
			b.WriteString(seg.UTF8)
		}
		text := strings.TrimSpace(strings.ReplaceAll(b.String(), "\n", " "))
		if text == "" {
			continue
		}
		out = append(out, model.Segment{
			Start:    float64(ev.StartMs) / 1000.0,
			Duration: float64(ev.DurationMs) / 1000.0,
			Text:     text,
		})
	}
	return out, nil
}
