package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Grader backend selection values for GraderMode.
const (
	GraderModeHTTP    = "http"
	GraderModeOpenAI  = "openai"
	GraderModeSandbox = "sandbox"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	JWTSecret   string

	GraderMode    string
	GraderBaseURL string
	GraderAPIKey  string
	GraderTimeout time.Duration

	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	PollMaxAttempts     int

	OpenAIAPIKey string
	OpenAIModel  string

	SandboxRunTimeout time.Duration
	SandboxMemoryMB   int
	SandboxCPUShares  int

	LeaderboardCacheTTL time.Duration
	GradedSubject       string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARENA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Arena API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("grader.mode", GraderModeHTTP)
	v.SetDefault("grader.timeout_ms", 10000)
	v.SetDefault("poll.initial_interval_ms", 2000)
	v.SetDefault("poll.max_interval_ms", 10000)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("sandbox.run_timeout_ms", 5000)
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("leaderboard.cache_ttl", "30s")
	v.SetDefault("graded.subject", "arena.submissions.graded")

	ttlString := v.GetString("leaderboard.cache_ttl")
	ttl, err := time.ParseDuration(ttlString)
	if err != nil {
		return Config{}, fmt.Errorf("invalid leaderboard cache ttl: %w", err)
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		JWTSecret:   v.GetString("jwt.secret"),

		GraderMode:    strings.ToLower(v.GetString("grader.mode")),
		GraderBaseURL: v.GetString("grader.base_url"),
		GraderAPIKey:  v.GetString("grader.api_key"),
		GraderTimeout: time.Duration(v.GetInt("grader.timeout_ms")) * time.Millisecond,

		PollInitialInterval: time.Duration(v.GetInt("poll.initial_interval_ms")) * time.Millisecond,
		PollMaxInterval:     time.Duration(v.GetInt("poll.max_interval_ms")) * time.Millisecond,
		PollMaxAttempts:     v.GetInt("poll.max_attempts"),

		OpenAIAPIKey: v.GetString("openai_api_key"),
		OpenAIModel:  v.GetString("openai.model"),

		SandboxRunTimeout: time.Duration(v.GetInt("sandbox.run_timeout_ms")) * time.Millisecond,
		SandboxMemoryMB:   v.GetInt("sandbox.memory_mb"),
		SandboxCPUShares:  v.GetInt("sandbox.cpu_shares"),

		LeaderboardCacheTTL: ttl,
		GradedSubject:       v.GetString("graded.subject"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.GraderMode {
	case GraderModeHTTP:
		if cfg.GraderBaseURL == "" {
			return Config{}, fmt.Errorf("grader base url must be provided in http mode")
		}
	case GraderModeOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("openai api key must be provided in openai mode")
		}
	case GraderModeSandbox:
	default:
		return Config{}, fmt.Errorf("unknown grader mode %q", cfg.GraderMode)
	}

	return cfg, nil
}
