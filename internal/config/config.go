package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	AIModeBackend = "backend"
	AIModeDirect  = "direct"

	StorageSQL    = "sql"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

var (
	ErrInvalidAIMode      = errors.New("AI_MODE must be 'backend' or 'direct'")
	ErrInvalidStorage     = errors.New("STORAGE_BACKEND must be 'sql', 'redis' or 'memory'")
	ErrMissingBackendURL  = errors.New("BACKEND_URL is required")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
)

type Config struct {
	AIMode  string        `toml:"ai_mode"`
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Storage StorageConfig `toml:"storage"`
	DB      DBConfig      `toml:"db"`
	Redis   RedisConfig   `toml:"redis"`
	HTTP    HTTPConfig    `toml:"http"`
	Rate    RateConfig    `toml:"rate"`
	Editor  EditorConfig  `toml:"editor"`
	Log     LogConfig     `toml:"log"`
}

type ServerConfig struct {
	ListenAddr      string        `toml:"listen_addr"`
	HealthPath      string        `toml:"health_path"`
	MetricsPath     string        `toml:"metrics_path"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type BackendConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

type StorageConfig struct {
	Backend string `toml:"backend"`
}

type DBConfig struct {
	Driver      string `toml:"driver"`
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type HTTPConfig struct {
	ClientTimeout time.Duration `toml:"client_timeout"`
	MaxRetries    int           `toml:"max_retries"`
	BackoffBase   time.Duration `toml:"backoff_base"`
	// RequestsPerSecond <= 0 disables outbound throttling.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

type RateConfig struct {
	// Limit <= 0 disables the AI usage limit.
	Limit  int64         `toml:"limit"`
	Window time.Duration `toml:"window"`
}

type EditorConfig struct {
	AutosaveDelay  time.Duration `toml:"autosave_delay"`
	PrecedingChars int           `toml:"preceding_chars"`
	FollowingChars int           `toml:"following_chars"`
	Style          string        `toml:"style"`
	WorldBible     string        `toml:"world_bible"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

func defaults() Config {
	return Config{
		AIMode: AIModeBackend,
		Server: ServerConfig{
			ListenAddr:      ":8080",
			HealthPath:      "/healthz",
			MetricsPath:     "/metrics",
			ShutdownTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{BaseURL: "http://localhost:8000/api/v1"},
		Storage: StorageConfig{Backend: StorageSQL},
		DB: DBConfig{
			Driver:      "sqlite",
			DSN:         "file:inkwell.db?_pragma=busy_timeout(5000)",
			AutoMigrate: true,
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379", Prefix: "inkwell:local:"},
		Rate:  RateConfig{Window: time.Hour},
		HTTP: HTTPConfig{
			ClientTimeout: 10 * time.Second,
			MaxRetries:    2,
			BackoffBase:   400 * time.Millisecond,
			Burst:         1,
		},
		Editor: EditorConfig{
			AutosaveDelay:  30 * time.Second,
			PrecedingChars: 2000,
			FollowingChars: 500,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env (without overriding the process environment), then the
// TOML file named by INKWELL_CONFIG, then environment variables. Later
// layers win.
func Load() (*Config, error) {
	if err := godotenv.Load(mustEnv("INKWELL_ENV_FILE", ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := defaults()
	if path := mustEnv("INKWELL_CONFIG", ""); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.AIMode = strings.ToLower(mustEnv("AI_MODE", cfg.AIMode))
	cfg.Server = ServerConfig{
		ListenAddr:      mustEnv("LISTEN_ADDR", cfg.Server.ListenAddr),
		HealthPath:      mustEnv("HEALTH_PATH", cfg.Server.HealthPath),
		MetricsPath:     mustEnv("METRICS_PATH", cfg.Server.MetricsPath),
		ShutdownTimeout: mustDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout),
	}
	cfg.Backend = BackendConfig{
		BaseURL: strings.TrimSuffix(mustEnv("BACKEND_URL", cfg.Backend.BaseURL), "/"),
		Token:   mustEnv("BACKEND_TOKEN", cfg.Backend.Token),
	}
	cfg.Storage.Backend = strings.ToLower(mustEnv("STORAGE_BACKEND", cfg.Storage.Backend))
	cfg.DB = DBConfig{
		Driver:      strings.ToLower(mustEnv("DB_DRIVER", cfg.DB.Driver)),
		DSN:         mustEnv("DB_DSN", cfg.DB.DSN),
		AutoMigrate: mustBool("AUTO_MIGRATE", cfg.DB.AutoMigrate),
	}
	cfg.Redis = RedisConfig{
		Addr:     mustEnv("REDIS_ADDR", cfg.Redis.Addr),
		Password: mustEnv("REDIS_PASSWORD", cfg.Redis.Password),
		DB:       mustInt("REDIS_DB", cfg.Redis.DB),
		Prefix:   mustEnv("REDIS_PREFIX", cfg.Redis.Prefix),
	}
	cfg.HTTP = HTTPConfig{
		ClientTimeout:     mustDuration("HTTP_TIMEOUT", cfg.HTTP.ClientTimeout),
		MaxRetries:        mustInt("HTTP_MAX_RETRIES", cfg.HTTP.MaxRetries),
		BackoffBase:       mustDuration("HTTP_BACKOFF_BASE", cfg.HTTP.BackoffBase),
		RequestsPerSecond: mustFloat("HTTP_REQUESTS_PER_SECOND", cfg.HTTP.RequestsPerSecond),
		Burst:             mustInt("HTTP_BURST", cfg.HTTP.Burst),
	}
	cfg.Rate = RateConfig{
		Limit:  mustInt64("RATE_LIMIT", cfg.Rate.Limit),
		Window: mustDuration("RATE_LIMIT_WINDOW", cfg.Rate.Window),
	}
	cfg.Editor = EditorConfig{
		AutosaveDelay:  mustDuration("AUTOSAVE_DELAY", cfg.Editor.AutosaveDelay),
		PrecedingChars: mustInt("PRECEDING_CHARS", cfg.Editor.PrecedingChars),
		FollowingChars: mustInt("FOLLOWING_CHARS", cfg.Editor.FollowingChars),
		Style:          mustEnv("WRITING_STYLE", cfg.Editor.Style),
		WorldBible:     mustEnv("WORLD_BIBLE", cfg.Editor.WorldBible),
	}
	cfg.Log.Level = strings.ToLower(mustEnv("LOG_LEVEL", cfg.Log.Level))

	if cfg.AIMode != AIModeBackend && cfg.AIMode != AIModeDirect {
		return nil, ErrInvalidAIMode
	}
	if cfg.Backend.BaseURL == "" {
		return nil, ErrMissingBackendURL
	}
	switch cfg.Storage.Backend {
	case StorageSQL:
		if cfg.DB.DSN == "" {
			return nil, ErrMissingDatabaseDSN
		}
	case StorageRedis, StorageMemory:
	default:
		return nil, ErrInvalidStorage
	}

	return &cfg, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustFloat(key string, def float64) float64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
