package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("MATCHER", "")
	t.Setenv("MATCH_SECTION_THRESHOLDS", "")

	cfg := Load()

	if cfg.Match.Threshold != 0.45 {
		t.Errorf("expected default threshold 0.45, got %f", cfg.Match.Threshold)
	}
	if cfg.Match.Strategy != "linear" {
		t.Errorf("expected linear matcher by default, got %q", cfg.Match.Strategy)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected 25 max open conns, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Live.ReuseWindow != time.Second {
		t.Errorf("expected 1s reuse window, got %v", cfg.Live.ReuseWindow)
	}
	if cfg.Live.ExpireAfter != 2*time.Second {
		t.Errorf("expected 2s expiry, got %v", cfg.Live.ExpireAfter)
	}
	if cfg.Live.IdentityCooldown != 30*time.Second {
		t.Errorf("expected 30s identity cooldown, got %v", cfg.Live.IdentityCooldown)
	}
	if cfg.Live.SweepInterval != 10*time.Second {
		t.Errorf("expected 10s sweep, got %v", cfg.Live.SweepInterval)
	}
	if cfg.Live.WriteDebounce != 500*time.Millisecond {
		t.Errorf("expected 500ms debounce, got %v", cfg.Live.WriteDebounce)
	}
	if cfg.Live.GridSize != 20 {
		t.Errorf("expected grid size 20, got %v", cfg.Live.GridSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.4")
	t.Setenv("MATCHER", "HNSW")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("LIVE_IDENTITY_COOLDOWN", "45s")
	t.Setenv("ATTENDANCE_SERVER_URL", "http://attendance.local:9000/")

	cfg := Load()

	if cfg.Match.Threshold != 0.4 {
		t.Errorf("expected threshold 0.4, got %f", cfg.Match.Threshold)
	}
	if cfg.Match.Strategy != "hnsw" {
		t.Errorf("expected hnsw, got %q", cfg.Match.Strategy)
	}
	if cfg.Database.MaxOpenConns != 7 {
		t.Errorf("expected 7, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Live.IdentityCooldown != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Live.IdentityCooldown)
	}
	if cfg.Live.ServerURL != "http://attendance.local:9000" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Live.ServerURL)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "not-a-number")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "-3")
	t.Setenv("LIVE_REFRESH", "soon")

	cfg := Load()

	if cfg.Match.Threshold != 0.45 {
		t.Errorf("expected fallback threshold 0.45, got %f", cfg.Match.Threshold)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected fallback 25, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Live.RefreshInterval != 5*time.Minute {
		t.Errorf("expected fallback 5m, got %v", cfg.Live.RefreshInterval)
	}
}

func TestThresholdFor(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("MATCH_SECTION_THRESHOLDS", "cse 3a=0.42, bad, ECE-1=abc,ME-2=0.5")

	cfg := Load()

	tests := []struct {
		section  string
		expected float64
	}{
		{"CSE-3A", 0.42},
		{"cse-3a", 0.42},
		{"ME-2", 0.5},
		{"ECE-1", 0.45},
		{"unknown", 0.45},
		{"", 0.45},
	}

	for _, tt := range tests {
		t.Run(tt.section, func(t *testing.T) {
			if got := cfg.Match.ThresholdFor(tt.section); got != tt.expected {
				t.Errorf("ThresholdFor(%q) = %f, want %f", tt.section, got, tt.expected)
			}
		})
	}
}

func TestQualityInterval(t *testing.T) {
	cfg := Load()

	tests := []struct {
		preset   string
		expected time.Duration
		wantErr  bool
	}{
		{"low", 200 * time.Millisecond, false},
		{"medium", 100 * time.Millisecond, false},
		{"HIGH", 50 * time.Millisecond, false},
		{"", 100 * time.Millisecond, false},
		{"ultra", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			got, err := cfg.Quality.Interval(tt.preset)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Interval(%q) = %v, want %v", tt.preset, got, tt.expected)
			}
		})
	}
}

func TestParseSectionThresholds(t *testing.T) {
	got := parseSectionThresholds("a=0.3,b=,=0.2,c=0")
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d: %v", len(got), got)
	}
	if got["A"] != 0.3 {
		t.Errorf("expected A=0.3, got %v", got["A"])
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example.edu, ,https://b.example.edu")

	cfg := Load()

	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.AllowedOrigins[1] != "https://b.example.edu" {
		t.Errorf("unexpected origin %q", cfg.Server.AllowedOrigins[1])
	}
}
