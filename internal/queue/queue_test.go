package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestKeyLayout(t *testing.T) {
	q := New(nil, "subtitles", time.Hour, nil)
	if got := q.listKey(); got != "queue:subtitles" {
		t.Fatalf("listKey = %q", got)
	}
	if got := q.jobKey("abc"); got != "queue:subtitles:job:abc" {
		t.Fatalf("jobKey = %q", got)
	}
	if got := q.registry("failed"); got != "queue:subtitles:failed" {
		t.Fatalf("registry = %q", got)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	in := Payload{VideoID: "dQw4w9WgXcQ", Language: "en", CleanForAI: true, ClientIPHash: "ab12"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestStatsJSONShape(t *testing.T) {
	data, err := json.Marshal(&Stats{QueueName: "subtitles", QueueDepth: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"queue_name", "queue_depth", "started_jobs", "failed_jobs", "deferred_jobs", "scheduled_jobs"} {
		if _, ok := m[key]; !ok {
			t.Errorf("stats JSON missing %q", key)
		}
	}
}
