package extractor

import "testing"

func TestParseJSON3(t *testing.T) {
	payload := []byte(`{
		"events": [
			{"tStartMs": 0, "dDurationMs": 2000, "wWinId": 1},
			{"tStartMs": 1500, "dDurationMs": 2500, "segs": [{"utf8": "hello "}, {"utf8": "world"}]},
			{"tStartMs": 4000, "dDurationMs": 1000, "segs": [{"utf8": "line\none"}]},
			{"tStartMs": 5000, "dDurationMs": 1000, "segs": [{"utf8": "\n"}]}
		]
	}`)
	segments, err := ParseJSON3(payload)
	if err != nil {
		t.Fatalf("ParseJSON3: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	if segments[0].Start != 1.5 || segments[0].Duration != 2.5 {
		t.Fatalf("segment timing = %v/%v, want 1.5/2.5", segments[0].Start, segments[0].Duration)
	}
	if segments[0].Text != "hello world" {
		t.Fatalf("segment text = %q", segments[0].Text)
	}
	if segments[1].Text != "line one" {
		t.Fatalf("newline not flattened: %q", segments[1].Text)
	}
}

func TestParseJSON3Invalid(t *testing.T) {
	if _, err := ParseJSON3([]byte("<html>blocked</html>")); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}

func TestPickTrack(t *testing.T) {
	tracks := []captionTrack{
		{LanguageCode: "en", Kind: "asr", BaseURL: "asr-en"},
		{LanguageCode: "en", BaseURL: "manual-en"},
		{LanguageCode: "de", BaseURL: "manual-de"},
	}

	got, err := pickTrack(tracks, "en")
	if err != nil {
		t.Fatalf("pickTrack: %v", err)
	}
	if got.BaseURL != "manual-en" {
		t.Fatalf("picked %q, want the manual track", got.BaseURL)
	}

	got, _ = pickTrack(tracks[:1], "en")
	if got.BaseURL != "asr-en" {
		t.Fatal("generated track should win when no manual exists")
	}

	got, _ = pickTrack(tracks, "en-US")
	if got.BaseURL != "manual-en" {
		t.Fatal("base-language prefix should match en for en-US")
	}

	got, _ = pickTrack(tracks, "fr")
	if got == nil {
		t.Fatal("unknown language should still return some track")
	}

	if _, err := pickTrack(nil, "en"); err != ErrTranscriptsDisabled {
		t.Fatalf("err = %v, want ErrTranscriptsDisabled", err)
	}
}
