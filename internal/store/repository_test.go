package store

import (
	"strings"
	"testing"

	"github.com/tubetext/tubetext/internal/model"
)

func TestStatusRankOrdering(t *testing.T) {
	if !(statusRank(model.JobQueued) < statusRank(model.JobProcessing)) {
		t.Fatal("queued must rank below processing")
	}
	for _, terminal := range []string{model.JobCompleted, model.JobFailed, model.JobTimeout, model.JobStale} {
		if !(statusRank(model.JobProcessing) < statusRank(terminal)) {
			t.Fatalf("processing must rank below terminal %q", terminal)
		}
	}
	if statusRank(model.JobCompleted) != statusRank(model.JobFailed) {
		t.Fatal("terminal states must share a rank so neither overwrites the other")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 600)
	if got := truncate(long, errTruncateLen); len(got) != errTruncateLen {
		t.Fatalf("truncate length = %d, want %d", len(got), errTruncateLen)
	}
	if got := truncate("short", errTruncateLen); got != "short" {
		t.Fatalf("truncate modified a short string: %q", got)
	}
}

func TestNullableJSON(t *testing.T) {
	if nullableJSON(nil) != nil {
		t.Fatal("nil payload must map to SQL NULL")
	}
	if got := nullableJSON([]byte(`{"a":1}`)); got == nil || *got != `{"a":1}` {
		t.Fatalf("nullableJSON = %v", got)
	}
}
