package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Backends selectable for the capacity ledger and the per-student lock.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Registration RegistrationConfig
	Ledger       LedgerConfig
	SubjectCache SubjectCacheConfig
	Exports      ExportsConfig
	Tracing      TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RegistrationConfig carries the seat and credit policy for registration periods.
type RegistrationConfig struct {
	MaxCreditsPerTerm int
	TransitionWorkers int
	// LockTimeout bounds the wait for a per-student lock. Redis locks live for
	// twice this and are extended while held.
	LockTimeout time.Duration
	LockBackend string
}

// LedgerConfig selects where seat counters live and how often they are reconciled.
type LedgerConfig struct {
	Backend       string
	AuditSchedule string
}

// SubjectCacheConfig tunes the subject metadata cache.
type SubjectCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Size    int
}

// ExportsConfig configures asynchronous transition report exports.
type ExportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupSchedule   string
	WorkerConcurrency int
	WorkerRetries     int
}

// TracingConfig toggles OpenTelemetry span export.
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRate   float64
	ServiceName  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxCredits := v.GetInt("REGISTRATION_MAX_CREDITS")
	if maxCredits <= 0 {
		maxCredits = 18
	}
	cfg.Registration = RegistrationConfig{
		MaxCreditsPerTerm: maxCredits,
		TransitionWorkers: v.GetInt("REGISTRATION_TRANSITION_WORKERS"),
		LockTimeout:       parseDuration(v.GetString("REGISTRATION_LOCK_TIMEOUT"), 5*time.Second),
		LockBackend:       oneOf(v.GetString("LOCK_BACKEND"), BackendMemory, BackendMemory, BackendRedis),
	}

	cfg.Ledger = LedgerConfig{
		Backend:       oneOf(v.GetString("LEDGER_BACKEND"), BackendMemory, BackendMemory, BackendPostgres),
		AuditSchedule: v.GetString("LEDGER_AUDIT_SCHEDULE"),
	}

	cfg.SubjectCache = SubjectCacheConfig{
		Enabled: v.GetBool("ENABLE_SUBJECT_CACHE"),
		TTL:     parseDuration(v.GetString("SUBJECT_CACHE_TTL"), 30*time.Minute),
		Size:    v.GetInt("SUBJECT_CACHE_SIZE"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:        v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupSchedule:   v.GetString("EXPORTS_CLEANUP_SCHEDULE"),
		WorkerConcurrency: v.GetInt("EXPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("EXPORTS_WORKER_RETRIES"),
	}

	cfg.Tracing = TracingConfig{
		Enabled:      v.GetBool("TRACING_ENABLED"),
		OTLPEndpoint: v.GetString("TRACING_OTLP_ENDPOINT"),
		SampleRate:   v.GetFloat64("TRACING_SAMPLE_RATE"),
		ServiceName:  v.GetString("TRACING_SERVICE_NAME"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "registrar")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REGISTRATION_MAX_CREDITS", 18)
	v.SetDefault("REGISTRATION_TRANSITION_WORKERS", 8)
	v.SetDefault("REGISTRATION_LOCK_TIMEOUT", "5s")
	v.SetDefault("LOCK_BACKEND", BackendMemory)

	v.SetDefault("LEDGER_BACKEND", BackendMemory)
	v.SetDefault("LEDGER_AUDIT_SCHEDULE", "@every 15m")

	v.SetDefault("ENABLE_SUBJECT_CACHE", true)
	v.SetDefault("SUBJECT_CACHE_TTL", "30m")
	v.SetDefault("SUBJECT_CACHE_SIZE", 2048)

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_SCHEDULE", "@every 1h")
	v.SetDefault("EXPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("EXPORTS_WORKER_RETRIES", 3)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLE_RATE", 1.0)
	v.SetDefault("TRACING_SERVICE_NAME", "registrar-api")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

// oneOf lower-cases raw and returns it when allowed, otherwise fallback.
func oneOf(raw, fallback string, allowed ...string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, candidate := range allowed {
		if value == candidate {
			return value
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
