package config

import "testing"

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load must fail when DATABASE_URL is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/subs")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBSchema != "youtube_subtitles" {
		t.Errorf("DBSchema default = %q", cfg.DBSchema)
	}
	if cfg.RateLimitRPM != 30 || cfg.RateLimitBurst != 5 {
		t.Errorf("rate limit defaults = %d/%d", cfg.RateLimitRPM, cfg.RateLimitBurst)
	}
	if cfg.RateLimitFailOpen {
		t.Error("rate limiter must default to fail-closed")
	}
	if got := cfg.QueueJobTimeout().Seconds(); got != 40 {
		t.Errorf("queue job timeout = %vs, want 40s", got)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Error("CORS must default to deny all")
	}
}

func TestLoadRejectsBadSchema(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/subs")
	t.Setenv("DB_SCHEMA", "bad-schema;drop")
	if _, err := Load(); err == nil {
		t.Fatal("Load must reject a non-identifier DB_SCHEMA")
	}
}

func TestParseOrigins(t *testing.T) {
	if got := parseOrigins(""); got != nil {
		t.Errorf("empty origins = %v, want nil", got)
	}
	if got := parseOrigins("*"); len(got) != 1 || got[0] != "*" {
		t.Errorf("wildcard origins = %v", got)
	}
	got := parseOrigins("https://a.example, https://b.example ,")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("csv origins = %v", got)
	}
}
