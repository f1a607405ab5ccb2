package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	LogLevel        string
	LogFormat       string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	SessionStore  string
	SessionTTL    time.Duration
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitRPS   float64
	RateLimitBurst int

	LLM LLMConfig
}

// LLMConfig configures the remote text-generation service.
type LLMConfig struct {
	APIKey        string
	Endpoint      string
	Model         string
	Timeout       time.Duration
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	StopSequences []string

	ResumeMaxTokens   int
	ResumeTemperature float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "dev")
	v.SetDefault("CORS_ALLOW_ORIGINS", "http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("OBJECT_STORE", "local")
	v.SetDefault("LOCAL_STORE_DIR", "./data")

	v.SetDefault("SESSION_STORE", "memory")
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("RATE_LIMIT_RPS", 2.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("LLM_ENDPOINT", "https://api.cohere.ai/v1/generate")
	v.SetDefault("LLM_MODEL", "command")
	v.SetDefault("LLM_TIMEOUT", "60s")
	v.SetDefault("LLM_MAX_TOKENS", 1500)
	v.SetDefault("LLM_TEMPERATURE", 0.3)
	v.SetDefault("LLM_TOP_P", 0.75)
	v.SetDefault("LLM_TOP_K", 0)
	v.SetDefault("RESUME_MAX_TOKENS", 2500)
	v.SetDefault("RESUME_TEMPERATURE", 0.5)
	return v
}

// FromViper builds a Config from an already-populated viper instance.
func FromViper(v *viper.Viper) Config {
	env := normalizeEnv(v.GetString("ENV"))
	sessionStore := normalizeSessionStore(v.GetString("SESSION_STORE"))
	dbURL := strings.TrimSpace(v.GetString("DATABASE_URL"))

	if env == "production" && sessionStore == "memory" {
		log.Printf("SESSION_STORE=memory in production; sessions will not survive restarts")
	}
	if sessionStore == "postgres" && dbURL == "" {
		log.Printf("SESSION_STORE=postgres requires DATABASE_URL")
	}

	return Config{
		Port:            v.GetString("PORT"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(v.GetString("CORS_ALLOW_ORIGINS")),
		LogLevel:        strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:       strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),

		ObjectStoreType: normalizeStoreType(v.GetString("OBJECT_STORE")),
		LocalStoreDir:   v.GetString("LOCAL_STORE_DIR"),
		AWSRegion:       v.GetString("AWS_REGION"),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Prefix:        v.GetString("S3_PREFIX"),
		SSEKMSKeyID:     v.GetString("SSE_KMS_KEY_ID"),

		SessionStore:  sessionStore,
		SessionTTL:    positiveDuration(v.GetDuration("SESSION_TTL"), 2*time.Hour),
		DatabaseURL:   dbURL,
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		LLM: LLMConfig{
			APIKey:            strings.TrimSpace(v.GetString("LLM_API_KEY")),
			Endpoint:          v.GetString("LLM_ENDPOINT"),
			Model:             v.GetString("LLM_MODEL"),
			Timeout:           positiveDuration(v.GetDuration("LLM_TIMEOUT"), 60*time.Second),
			MaxTokens:         v.GetInt("LLM_MAX_TOKENS"),
			Temperature:       v.GetFloat64("LLM_TEMPERATURE"),
			TopP:              v.GetFloat64("LLM_TOP_P"),
			TopK:              v.GetInt("LLM_TOP_K"),
			StopSequences:     splitAndTrim(v.GetString("LLM_STOP_SEQUENCES")),
			ResumeMaxTokens:   v.GetInt("RESUME_MAX_TOKENS"),
			ResumeTemperature: v.GetFloat64("RESUME_TEMPERATURE"),
		},
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func positiveDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeSessionStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "redis":
		return "redis"
	default:
		return "memory"
	}
}
