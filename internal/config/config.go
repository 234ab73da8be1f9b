package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot.
type Config struct {
	App        AppConfig
	Discord    DiscordConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Tickets    TicketsConfig
	Transcript TranscriptConfig
}

// AppConfig controls the HTTP surface (health probes, transcript pages).
type AppConfig struct {
	Name    string
	Env     string
	Host    string
	Port    string
	Version string
}

// DiscordConfig holds gateway credentials.
type DiscordConfig struct {
	BotToken string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. When Addr is empty the bot
// falls back to process-local TTL stores, which are only correct for a
// single running instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// TicketsConfig holds global ticket-lifecycle knobs. Per-guild policy
// lives in the shared guild settings document, not here.
type TicketsConfig struct {
	SweepIntervalSeconds    int
	ActivityDebounceSeconds int
	DeleteGraceSeconds      int
}

// TranscriptConfig controls public transcript exposure. When BaseURL is
// empty, transcripts travel only as file attachments.
type TranscriptConfig struct {
	BaseURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("DISCORD_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "ticket-bot"),
			Env:     getEnv("APP_ENV", "development"),
			Host:    getEnv("APP_HOST", "0.0.0.0"),
			Port:    getEnv("APP_PORT", "8080"),
			Version: getEnv("APP_VERSION", "dev"),
		},
		Discord: DiscordConfig{
			BotToken: token,
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tickets: TicketsConfig{
			SweepIntervalSeconds:    getEnvAsInt("TICKET_SWEEP_INTERVAL_SECONDS", 60),
			ActivityDebounceSeconds: getEnvAsInt("TICKET_ACTIVITY_DEBOUNCE_SECONDS", 30),
			DeleteGraceSeconds:      getEnvAsInt("TICKET_DELETE_GRACE_SECONDS", 5),
		},
		Transcript: TranscriptConfig{
			BaseURL: os.Getenv("TRANSCRIPT_BASE_URL"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// SweepInterval returns the auto-close tick duration.
func (t TicketsConfig) SweepInterval() time.Duration {
	if t.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(t.SweepIntervalSeconds) * time.Second
}

// ActivityDebounce returns the minimum gap between activity writes per channel.
func (t TicketsConfig) ActivityDebounce() time.Duration {
	if t.ActivityDebounceSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.ActivityDebounceSeconds) * time.Second
}

// DeleteGrace returns the delay before a closed dedicated channel is deleted.
func (t TicketsConfig) DeleteGrace() time.Duration {
	if t.DeleteGraceSeconds < 0 {
		return 0
	}
	return time.Duration(t.DeleteGraceSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
