// Package config loads inbox settings from environment variables, applies
// defaults and validates the result. Feed seed definitions live in a
// separate TOML file (see LoadFeedSeeds).
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// IdentityConfig tunes cross-channel identity resolution.
type IdentityConfig struct {
	AutoMergeThreshold float64 // AUTO_MERGE_THRESHOLD: attach without review at or above
	SuggestionFloor    float64 // SUGGESTION_FLOOR: suggest a merge at or above
	FuzzyNameRatio     float64 // FUZZY_NAME_RATIO: minimum name similarity for the weak fuzzy signal
	MergeRetries       int     // MERGE_RETRIES: optimistic version conflicts retried before giving up
}

// ThreadConfig controls thread aggregation.
type ThreadConfig struct {
	ContinuityWindow time.Duration // TOPIC_CONTINUITY_WINDOW
}

// FeedConfig controls feed classification and scoring.
type FeedConfig struct {
	MembershipThreshold float64       // FEED_MEMBERSHIP_THRESHOLD: default for feeds without one
	WeightCap           int           // FEED_WEIGHT_CAP: max total feed weight in a priority score
	WaitSaturation      time.Duration // WAIT_SATURATION: time constant of the wait component
	SeedFile            string        // FEEDS_FILE: optional TOML with feeds to seed
}

// AnnotationConfig controls calls to the annotation service.
type AnnotationConfig struct {
	RecentMessages int           // ANNOTATION_RECENT_N
	MaxAttempts    int           // ANNOTATION_MAX_ATTEMPTS
	BackoffInitial time.Duration // ANNOTATION_BACKOFF_INITIAL
	BackoffMax     time.Duration // ANNOTATION_BACKOFF_MAX
	RPS            float64       // ANNOTATION_RPS
	Timeout        time.Duration // ANNOTATION_TIMEOUT: per call
	OpenAIKey      string        // OPENAI_API_KEY: empty selects the built-in heuristic annotator
	OpenAIModel    string        // OPENAI_MODEL
	OpenAIBaseURL  string        // OPENAI_BASE_URL
}

// PipelineConfig sizes the background workers.
type PipelineConfig struct {
	Workers      int           // WORKERS per queue
	QueueSize    int           // QUEUE_SIZE
	TickInterval time.Duration // TICK_INTERVAL: wait-time refresh and stale sweep cadence
}

// Config holds all configuration values for the inbox server.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DBPath string

	// Rate limiting
	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig

	Identity   IdentityConfig
	Threads    ThreadConfig
	Feeds      FeedConfig
	Annotation AnnotationConfig
	Pipeline   PipelineConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: getenv("DB_PATH", "inbox.db"),

		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "unified-inbox"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		Identity: IdentityConfig{
			AutoMergeThreshold: getfloat("AUTO_MERGE_THRESHOLD", 0.9),
			SuggestionFloor:    getfloat("SUGGESTION_FLOOR", 0.5),
			FuzzyNameRatio:     getfloat("FUZZY_NAME_RATIO", 0.85),
			MergeRetries:       getint("MERGE_RETRIES", 3),
		},
		Threads: ThreadConfig{
			ContinuityWindow: getdur("TOPIC_CONTINUITY_WINDOW", 14*24*time.Hour),
		},
		Feeds: FeedConfig{
			MembershipThreshold: getfloat("FEED_MEMBERSHIP_THRESHOLD", 0.5),
			WeightCap:           getint("FEED_WEIGHT_CAP", 30),
			WaitSaturation:      getdur("WAIT_SATURATION", 12*time.Hour),
			SeedFile:            getenv("FEEDS_FILE", ""),
		},
		Annotation: AnnotationConfig{
			RecentMessages: getint("ANNOTATION_RECENT_N", 20),
			MaxAttempts:    getint("ANNOTATION_MAX_ATTEMPTS", 5),
			BackoffInitial: getdur("ANNOTATION_BACKOFF_INITIAL", 500*time.Millisecond),
			BackoffMax:     getdur("ANNOTATION_BACKOFF_MAX", 30*time.Second),
			RPS:            getfloat("ANNOTATION_RPS", 5),
			Timeout:        getdur("ANNOTATION_TIMEOUT", 30*time.Second),
			OpenAIKey:      getenv("OPENAI_API_KEY", ""),
			OpenAIModel:    getenv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:  getenv("OPENAI_BASE_URL", ""),
		},
		Pipeline: PipelineConfig{
			Workers:      getint("WORKERS", 4),
			QueueSize:    getint("QUEUE_SIZE", 1024),
			TickInterval: getdur("TICK_INTERVAL", time.Minute),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	checks := []struct {
		bad bool
		msg string
	}{
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{strings.TrimSpace(c.DBPath) == "", "DB_PATH must not be empty"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{!unit(c.OTEL.SampleRatio), "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
		{!unit(c.Identity.AutoMergeThreshold), "AUTO_MERGE_THRESHOLD must be in [0,1]"},
		{!unit(c.Identity.SuggestionFloor), "SUGGESTION_FLOOR must be in [0,1]"},
		{c.Identity.SuggestionFloor > c.Identity.AutoMergeThreshold, "SUGGESTION_FLOOR must not exceed AUTO_MERGE_THRESHOLD"},
		{!unit(c.Identity.FuzzyNameRatio), "FUZZY_NAME_RATIO must be in [0,1]"},
		{c.Identity.MergeRetries < 1, "MERGE_RETRIES must be >= 1"},
		{c.Threads.ContinuityWindow <= 0, "TOPIC_CONTINUITY_WINDOW must be > 0"},
		{!unit(c.Feeds.MembershipThreshold), "FEED_MEMBERSHIP_THRESHOLD must be in [0,1]"},
		{c.Feeds.WeightCap < 0 || c.Feeds.WeightCap > 30, "FEED_WEIGHT_CAP must be in [0,30]"},
		{c.Feeds.WaitSaturation <= 0, "WAIT_SATURATION must be > 0"},
		{c.Annotation.RecentMessages < 1, "ANNOTATION_RECENT_N must be >= 1"},
		{c.Annotation.MaxAttempts < 1, "ANNOTATION_MAX_ATTEMPTS must be >= 1"},
		{c.Annotation.BackoffInitial <= 0 || c.Annotation.BackoffMax < c.Annotation.BackoffInitial, "ANNOTATION_BACKOFF_INITIAL must be > 0 and <= ANNOTATION_BACKOFF_MAX"},
		{c.Annotation.RPS <= 0, "ANNOTATION_RPS must be > 0"},
		{c.Annotation.Timeout <= 0, "ANNOTATION_TIMEOUT must be > 0"},
		{c.Pipeline.Workers < 1, "WORKERS must be >= 1"},
		{c.Pipeline.QueueSize < 1, "QUEUE_SIZE must be >= 1"},
		{c.Pipeline.TickInterval <= 0, "TICK_INTERVAL must be > 0"},
	}
	for _, ck := range checks {
		if ck.bad {
			return errors.New(ck.msg)
		}
	}
	return nil
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
