// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, ledger and provider
// endpoints, pipeline tuning, rate limiting, and observability.
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

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-mint-node")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LedgerConfig defines how the node talks to the ledger.
type LedgerConfig struct {
	RPCURL      string        // LEDGER_RPC_URL (JSON-RPC endpoint)
	WSURL       string        // LEDGER_WS_URL (tx stream; empty disables the watcher)
	Account     string        // LEDGER_ACCOUNT (the node's receiving account)
	MinAmount   float64       // LEDGER_MIN_AMOUNT (required payment)
	PayWindow   time.Duration // LEDGER_PAY_WINDOW (how long a payment may lag the request)
	CallTimeout time.Duration // LEDGER_CALL_TIMEOUT
}

// ProviderConfig holds the AI provider credentials and output settings.
type ProviderConfig struct {
	FalURL      string // FAL_URL (the model endpoint; the path selects the model)
	FalKey      string // FAL_KEY (empty disables the provider)
	OpenAIURL   string // OPENAI_URL
	OpenAIKey   string // OPENAI_KEY (empty disables the provider)
	OpenAIModel string // OPENAI_MODEL
	ImageSize   string // IMAGE_SIZE (provider-neutral size keyword)
}

// IPFSConfig holds pinning-service settings.
type IPFSConfig struct {
	Endpoint string // IPFS_PIN_ENDPOINT
	Token    string // IPFS_PIN_TOKEN
	GroupID  string // IPFS_PIN_GROUP (optional collection/group id)
}

// MessagingConfig holds outbound delivery settings.
type MessagingConfig struct {
	WebhookURL   string // MESSAGING_WEBHOOK_URL
	WebhookToken string // MESSAGING_WEBHOOK_TOKEN
	Locale       string // MESSAGING_LOCALE (BCP 47 tag, e.g. "en")
}

// PipelineConfig tunes the worker pool, sweeper, and retry budgets.
type PipelineConfig struct {
	Workers         int           // PIPELINE_WORKERS
	QueueSize       int           // PIPELINE_QUEUE_SIZE
	SweepInterval   time.Duration // PIPELINE_SWEEP_INTERVAL
	Staleness       time.Duration // PIPELINE_STALENESS
	MintMaxAttempts int           // PIPELINE_MINT_MAX_ATTEMPTS (total, across restarts)
	RetryBaseDelay  time.Duration // PIPELINE_RETRY_BASE_DELAY
	RetryMaxDelay   time.Duration // PIPELINE_RETRY_MAX_DELAY
	GenerateTimeout time.Duration // PIPELINE_GENERATE_TIMEOUT (per provider call)
	MaxPromptLength int           // PIPELINE_MAX_PROMPT_LENGTH (runes)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Domain
	Ledger    LedgerConfig
	Providers ProviderConfig
	IPFS      IPFSConfig
	Messaging MessagingConfig
	Pipeline  PipelineConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "mintnode.db"),

		// Domain
		Ledger: LedgerConfig{
			RPCURL:      getenv("LEDGER_RPC_URL", "http://localhost:5005"),
			WSURL:       getenv("LEDGER_WS_URL", ""),
			Account:     getenv("LEDGER_ACCOUNT", ""),
			MinAmount:   getfloat("LEDGER_MIN_AMOUNT", 1.0),
			PayWindow:   getdur("LEDGER_PAY_WINDOW", 30*time.Minute),
			CallTimeout: getdur("LEDGER_CALL_TIMEOUT", 30*time.Second),
		},
		Providers: ProviderConfig{
			FalURL:      getenv("FAL_URL", "https://fal.run/fal-ai/flux/dev"),
			FalKey:      getenv("FAL_KEY", ""),
			OpenAIURL:   getenv("OPENAI_URL", "https://api.openai.com/v1"),
			OpenAIKey:   getenv("OPENAI_KEY", ""),
			OpenAIModel: getenv("OPENAI_MODEL", "dall-e-3"),
			ImageSize:   getenv("IMAGE_SIZE", "landscape_4_3"),
		},
		IPFS: IPFSConfig{
			Endpoint: getenv("IPFS_PIN_ENDPOINT", "https://api.pinata.cloud/pinning/pinFileToIPFS"),
			Token:    getenv("IPFS_PIN_TOKEN", ""),
			GroupID:  getenv("IPFS_PIN_GROUP", ""),
		},
		Messaging: MessagingConfig{
			WebhookURL:   getenv("MESSAGING_WEBHOOK_URL", ""),
			WebhookToken: getenv("MESSAGING_WEBHOOK_TOKEN", ""),
			Locale:       getenv("MESSAGING_LOCALE", "en"),
		},
		Pipeline: PipelineConfig{
			Workers:         getint("PIPELINE_WORKERS", 4),
			QueueSize:       getint("PIPELINE_QUEUE_SIZE", 256),
			SweepInterval:   getdur("PIPELINE_SWEEP_INTERVAL", 30*time.Second),
			Staleness:       getdur("PIPELINE_STALENESS", 5*time.Minute),
			MintMaxAttempts: getint("PIPELINE_MINT_MAX_ATTEMPTS", 12),
			RetryBaseDelay:  getdur("PIPELINE_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:   getdur("PIPELINE_RETRY_MAX_DELAY", time.Minute),
			GenerateTimeout: getdur("PIPELINE_GENERATE_TIMEOUT", 2*time.Minute),
			MaxPromptLength: getint("PIPELINE_MAX_PROMPT_LENGTH", 2000),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-mint-node"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.Ledger.RPCURL) == "" {
		return cfg, errors.New("LEDGER_RPC_URL must not be empty")
	}
	if cfg.Ledger.MinAmount < 0 {
		return cfg, errors.New("LEDGER_MIN_AMOUNT must be >= 0")
	}
	if cfg.Ledger.PayWindow <= 0 {
		return cfg, errors.New("LEDGER_PAY_WINDOW must be > 0")
	}
	if cfg.Pipeline.Workers < 1 {
		return cfg, errors.New("PIPELINE_WORKERS must be >= 1")
	}
	if cfg.Pipeline.QueueSize < 1 {
		return cfg, errors.New("PIPELINE_QUEUE_SIZE must be >= 1")
	}
	if cfg.Pipeline.SweepInterval <= 0 || cfg.Pipeline.Staleness <= 0 {
		return cfg, errors.New("sweeper intervals must be positive durations")
	}
	if cfg.Pipeline.MintMaxAttempts < 1 {
		return cfg, errors.New("PIPELINE_MINT_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Pipeline.MaxPromptLength < 1 {
		return cfg, errors.New("PIPELINE_MAX_PROMPT_LENGTH must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

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
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
