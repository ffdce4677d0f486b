package adreel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CreditPolicy selects when a submitted job consumes a credit.
// The original product left this ambiguous; it is an explicit knob here.
type CreditPolicy string

const (
	// ConsumeAtSubmission debits the caller before the job is enqueued.
	// A job that later fails does not refund the credit.
	ConsumeAtSubmission CreditPolicy = "submission"

	// ConsumeAtCompletion debits the caller only after the job finishes
	// successfully.
	ConsumeAtCompletion CreditPolicy = "completion"
)

// Config holds all process configuration. It is built once at startup by
// FromEnv and passed by value to component constructors; nothing reads the
// environment after that.
type Config struct {
	// HTTP surface.
	Addr        string
	Version     string
	Debug       bool
	FrontendURL string
	MaxUploadMB int

	// Shared store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Identity verification.
	AuthSecret string

	// Object storage.
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	// Billing.
	BillingKeyID  string
	BillingSecret string

	// Admission control.
	RateLimit  int
	RateWindow time.Duration

	// Credit ledger.
	CreditTTL    time.Duration
	CreditPolicy CreditPolicy

	// Media defaults.
	GenerationFPS        int
	GenerationResolution string
	GenerationScenes     int

	// Hosted models.
	ModelEndpoint string
	ModelToken    string

	// Result URLs.
	PresignExpiry time.Duration

	// Worker pool.
	Concurrency       int
	Queues            []string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleJobThreshold time.Duration
	ShutdownTimeout   time.Duration
	JobRetention      time.Duration
}

// FromEnv builds a Config from ADREEL_* environment variables, applying
// defaults for everything optional. It fails on unparseable values so that
// a typo does not silently fall back to a default.
func FromEnv() (Config, error) {
	var errs []string
	cfg := Config{
		Addr:        getenv("ADREEL_ADDR", ":8080"),
		Version:     getenv("ADREEL_VERSION", "0.1.0"),
		Debug:       getenvBool("ADREEL_DEBUG", false, &errs),
		FrontendURL: getenv("ADREEL_FRONTEND_URL", "http://localhost:8080"),
		MaxUploadMB: getenvInt("ADREEL_MAX_UPLOAD_MB", 100, &errs),

		RedisAddr:     getenv("ADREEL_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("ADREEL_REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("ADREEL_REDIS_DB", 0, &errs),

		AuthSecret: getenv("ADREEL_AUTH_SECRET", ""),

		S3Endpoint:  getenv("ADREEL_S3_ENDPOINT", ""),
		S3AccessKey: getenv("ADREEL_S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("ADREEL_S3_SECRET_KEY", ""),
		S3Bucket:    getenv("ADREEL_S3_BUCKET", "adreel-artifacts"),
		S3Region:    getenv("ADREEL_S3_REGION", "us-east-1"),
		S3UseSSL:    getenvBool("ADREEL_S3_USE_SSL", false, &errs),

		BillingKeyID:  getenv("ADREEL_BILLING_KEY_ID", ""),
		BillingSecret: getenv("ADREEL_BILLING_SECRET", ""),

		RateLimit:  getenvInt("ADREEL_RATE_LIMIT", 20, &errs),
		RateWindow: getenvDuration("ADREEL_RATE_WINDOW", time.Hour, &errs),

		CreditTTL:    getenvDuration("ADREEL_CREDIT_TTL", 30*24*time.Hour, &errs),
		CreditPolicy: CreditPolicy(getenv("ADREEL_CREDIT_POLICY", string(ConsumeAtSubmission))),

		GenerationFPS:        getenvInt("ADREEL_GEN_FPS", 24, &errs),
		GenerationResolution: getenv("ADREEL_GEN_RESOLUTION", "1280x720"),
		GenerationScenes:     getenvInt("ADREEL_GEN_SCENES", 6, &errs),

		ModelEndpoint: getenv("ADREEL_MODEL_ENDPOINT", "https://api.replicate.com/v1"),
		ModelToken:    getenv("ADREEL_MODEL_TOKEN", ""),

		PresignExpiry: getenvDuration("ADREEL_PRESIGN_EXPIRY", time.Hour, &errs),

		Concurrency:       getenvInt("ADREEL_CONCURRENCY", 10, &errs),
		Queues:            getenvList("ADREEL_QUEUES", []string{"video", "analysis"}),
		PollInterval:      getenvDuration("ADREEL_POLL_INTERVAL", time.Second, &errs),
		HeartbeatInterval: getenvDuration("ADREEL_HEARTBEAT_INTERVAL", 10*time.Second, &errs),
		StaleJobThreshold: getenvDuration("ADREEL_STALE_THRESHOLD", 30*time.Second, &errs),
		ShutdownTimeout:   getenvDuration("ADREEL_SHUTDOWN_TIMEOUT", 30*time.Second, &errs),
		JobRetention:      getenvDuration("ADREEL_JOB_RETENTION", 24*time.Hour, &errs),
	}

	switch cfg.CreditPolicy {
	case ConsumeAtSubmission, ConsumeAtCompletion:
	default:
		errs = append(errs, fmt.Sprintf("ADREEL_CREDIT_POLICY: unknown policy %q", cfg.CreditPolicy))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("adreel: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, errs *[]string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return n
}

func getenvBool(key string, def bool, errs *[]string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration, errs *[]string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return d
}

func getenvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
