package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/class-attendance/internal/facematch"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Detector  DetectorConfig
	Match     MatchConfig
	Quality   QualityConfig
	Live      LiveConfig
	Server    ServerConfig
	LogLevel  string
	CacheTTL  time.Duration // how long a section's candidate set is reused before reloading
	UploadDir string        // directory for temporary uploads (defaults to os.TempDir)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type DetectorConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // per request, defaults to 30s
}

// MatchConfig controls the distance threshold used by every recognition path.
type MatchConfig struct {
	Threshold  float64            `yaml:"threshold"`
	Thresholds map[string]float64 `yaml:"thresholds"`
	Strategy   string             `yaml:"-"` // "linear" or "hnsw"
}

// ThresholdFor returns the threshold for a section, falling back to the global one.
func (m MatchConfig) ThresholdFor(groupTag string) float64 {
	if t, ok := m.Thresholds[facematch.NormalizeGroupTag(groupTag)]; ok && t > 0 {
		return t
	}
	return m.Threshold
}

// QualityConfig maps live quality presets to their minimum interval between detection passes.
type QualityConfig struct {
	Low    time.Duration `yaml:"low"`
	Medium time.Duration `yaml:"medium"`
	High   time.Duration `yaml:"high"`
}

// Interval returns the detection interval for a preset name. An empty name selects medium.
func (q QualityConfig) Interval(preset string) (time.Duration, error) {
	switch strings.ToLower(preset) {
	case "low":
		return q.Low, nil
	case "medium", "":
		return q.Medium, nil
	case "high":
		return q.High, nil
	}
	return 0, fmt.Errorf("unknown quality preset %q (want low, medium or high)", preset)
}

type LiveConfig struct {
	ServerURL        string        `yaml:"-"`
	GridSize         float64       `yaml:"grid_size"`
	ReuseWindow      time.Duration `yaml:"reuse_window"`
	ExpireAfter      time.Duration `yaml:"expire_after"`
	IdentityCooldown time.Duration `yaml:"identity_cooldown"`
	UnknownCooldown  time.Duration `yaml:"unknown_cooldown"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	WriteDebounce    time.Duration `yaml:"write_debounce"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // extra CORS origins; localhost is always allowed
}

type defaults struct {
	Match   MatchConfig   `yaml:"match"`
	Quality QualityConfig `yaml:"quality"`
	Live    LiveConfig    `yaml:"live"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive Go duration string, falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseSectionThresholds parses "CSE-3A=0.42,CSE-3B=0.40" into a map.
// Malformed pairs are ignored.
func parseSectionThresholds(s string) map[string]float64 {
	out := make(map[string]float64)
	for pair := range strings.SplitSeq(s, ",") {
		tag, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || tag == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || f <= 0 {
			continue
		}
		out[facematch.NormalizeGroupTag(tag)] = f
	}
	return out
}

func loadDefaults() defaults {
	var d defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	thresholds := make(map[string]float64, len(d.Match.Thresholds))
	for tag, t := range d.Match.Thresholds {
		thresholds[facematch.NormalizeGroupTag(tag)] = t
	}
	d.Match.Thresholds = thresholds
	return d
}

func Load() *Config {
	d := loadDefaults()

	match := d.Match
	match.Threshold = envFloat("MATCH_THRESHOLD", match.Threshold)
	match.Strategy = strings.ToLower(envString("MATCHER", "linear"))
	for tag, t := range parseSectionThresholds(os.Getenv("MATCH_SECTION_THRESHOLDS")) {
		match.Thresholds[tag] = t
	}

	live := d.Live
	live.ServerURL = strings.TrimSuffix(envString("ATTENDANCE_SERVER_URL", "http://localhost:8080"), "/")
	live.IdentityCooldown = envDuration("LIVE_IDENTITY_COOLDOWN", live.IdentityCooldown)
	live.UnknownCooldown = envDuration("LIVE_UNKNOWN_COOLDOWN", live.UnknownCooldown)
	live.RefreshInterval = envDuration("LIVE_REFRESH", live.RefreshInterval)

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Detector: DetectorConfig{
			URL:     os.Getenv("DETECTOR_URL"),
			Timeout: envDuration("DETECTOR_TIMEOUT", 30*time.Second),
		},
		Match:   match,
		Quality: d.Quality,
		Live:    live,
		Server: ServerConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		LogLevel:  envString("LOG_LEVEL", "info"),
		CacheTTL:  envDuration("CANDIDATE_CACHE_TTL", time.Minute),
		UploadDir: os.Getenv("UPLOAD_DIR"),
	}
}
