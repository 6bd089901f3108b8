package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StorageR2    = "r2"
	StorageLocal = "local"
)

// Config holds every setting of the service. Values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	DatabaseURL  string `validate:"required"`
	JWTSecretKey string `validate:"required,min=16"`
	ServerPort   int    `validate:"min=1,max=65535"`
	CORSOrigins  []string

	StorageBackend  string `validate:"oneof=r2 local"`
	LocalStorageDir string `validate:"required_if=StorageBackend local"`

	R2AccountID       string `validate:"required_if=StorageBackend r2"`
	R2AccessKeyID     string `validate:"required_if=StorageBackend r2"`
	R2SecretAccessKey string `validate:"required_if=StorageBackend r2"`
	R2BucketName      string `validate:"required_if=StorageBackend r2"`

	// MaxUploadBytes is the global ceiling; a competition may only lower it.
	MaxUploadBytes int64 `validate:"min=1"`

	ScoringWorkers       int           `validate:"min=1,max=64"`
	ScoringQueueSize     int           `validate:"min=1"`
	ScoringTimeout       time.Duration `validate:"min=1s"`
	SweepInterval        time.Duration `validate:"min=1s"`
	SweepGrace           time.Duration `validate:"min=0"`
	RetryMaxAttempts     int           `validate:"min=1,max=10"`
	RetryBaseDelay       time.Duration `validate:"min=1ms"`
	RetryMaxDelay        time.Duration `validate:"gtefield=RetryBaseDelay"`
	StatusUpdateInterval time.Duration `validate:"min=1s"`

	RateLimitPerSecond float64 `validate:"gt=0"`
	RateLimitBurst     int     `validate:"min=1"`

	ScoringDefaults *ScoringDefaults
}

// Load reads the configuration from environment variables. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function, so tests can avoid the
// process environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := envParser{getenv: getenv}

	cfg := &Config{
		DatabaseURL:       getenv("DATABASE_URL"),
		JWTSecretKey:      getenv("JWT_SECRET_KEY"),
		ServerPort:        p.getInt("SERVER_PORT", 8080),
		CORSOrigins:       p.getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		StorageBackend:    strings.ToLower(p.getString("STORAGE_BACKEND", StorageR2)),
		LocalStorageDir:   getenv("LOCAL_STORAGE_DIR"),
		R2AccountID:       getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      getenv("R2_BUCKET_NAME"),

		MaxUploadBytes: p.getInt64("MAX_UPLOAD_BYTES", 50<<20),

		ScoringWorkers:       p.getInt("SCORING_WORKERS", 4),
		ScoringQueueSize:     p.getInt("SCORING_QUEUE_SIZE", 256),
		ScoringTimeout:       p.getDuration("SCORING_TIMEOUT", 2*time.Minute),
		SweepInterval:        p.getDuration("SCORING_SWEEP_INTERVAL", 30*time.Second),
		SweepGrace:           p.getDuration("SCORING_SWEEP_GRACE", time.Minute),
		RetryMaxAttempts:     p.getInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:       p.getDuration("RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryMaxDelay:        p.getDuration("RETRY_MAX_DELAY", 5*time.Second),
		StatusUpdateInterval: p.getDuration("STATUS_UPDATE_INTERVAL", 30*time.Second),

		RateLimitPerSecond: p.getFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     p.getInt("RATE_LIMIT_BURST", 20),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	defaults := DefaultScoringDefaults()
	if path := getenv("SCORING_DEFAULTS_FILE"); path != "" {
		loaded, err := LoadScoringDefaults(path)
		if err != nil {
			return nil, err
		}
		defaults = loaded
	}
	cfg.ScoringDefaults = defaults

	return cfg, nil
}

// envParser remembers the first parse failure so Load can report it once.
type envParser struct {
	getenv func(string) string
	err    error
}

func (p *envParser) getString(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *envParser) getList(key string, def []string) []string {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (p *envParser) getInt(key string, def int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) getInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *envParser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
}
