package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"inkwell/internal/assist"
	"inkwell/internal/backend"
	"inkwell/internal/config"
	"inkwell/internal/credentials"
	"inkwell/internal/httpx"
	"inkwell/internal/metrics"
	"inkwell/internal/notify"
	"inkwell/internal/providers"
	"inkwell/internal/ratelimit"
	"inkwell/internal/server"
	"inkwell/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("ai_mode", cfg.AIMode).
		Str("storage", cfg.Storage.Backend).
		Str("backend_url", cfg.Backend.BaseURL).
		Msg("starting inkwell")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.Storage.Backend == config.StorageRedis || cfg.Rate.Limit > 0 {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	var kv credentials.KV
	switch cfg.Storage.Backend {
	case config.StorageSQL:
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		defer store.Close()
		kv = store
	case config.StorageRedis:
		kv = storage.NewRedisStore(rdb, cfg.Redis.Prefix)
	default:
		log.Warn().Msg("using in-memory storage, provider settings are lost on exit")
		kv = storage.NewMemoryStore()
	}

	m := metrics.Global()
	var limiter *rate.Limiter
	if cfg.HTTP.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RequestsPerSecond), max(cfg.HTTP.Burst, 1))
	}
	deps := providers.Deps{
		HTTP: httpx.New(httpx.Config{
			Timeout:     cfg.HTTP.ClientTimeout,
			MaxRetries:  cfg.HTTP.MaxRetries,
			BackoffBase: cfg.HTTP.BackoffBase,
			Limiter:     limiter,
			Metrics:     m,
			Logger:      log.Logger,
		}),
		Metrics: m,
		Logger:  log.Logger,
	}

	creds := credentials.New(credentials.Config{Storage: kv, Logger: log.Logger})
	client := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Deps:    deps,
		Logger:  log.Logger,
	})
	direct := assist.NewDirect(assist.DirectConfig{
		Credentials: creds,
		Deps:        deps,
		Style:       cfg.Editor.Style,
		WorldBible:  cfg.Editor.WorldBible,
		Logger:      log.Logger,
	})

	var assistant assist.Assistant = client
	if cfg.AIMode == config.AIModeDirect {
		assistant = direct
	}

	center := notify.NewCenter(notify.Config{Metrics: m, Logger: log.Logger})
	defer center.Close()

	srvCfg := server.Config{
		Chapters:      client,
		Store:         client,
		Assistant:     assistant,
		Credentials:   creds,
		Prober:        direct,
		Notifications: center,
		Editor: server.EditorOptions{
			AutosaveDelay:  cfg.Editor.AutosaveDelay,
			PrecedingChars: cfg.Editor.PrecedingChars,
			FollowingChars: cfg.Editor.FollowingChars,
		},
		HealthPath:  cfg.Server.HealthPath,
		MetricsPath: cfg.Server.MetricsPath,
		Metrics:     m,
		Logger:      log.Logger,
	}
	if cfg.Rate.Limit > 0 {
		srvCfg.Limiter = ratelimit.New(rdb, ratelimit.Config{
			Limit:  cfg.Rate.Limit,
			Window: cfg.Rate.Window,
			Prefix: cfg.Redis.Prefix + "usage",
		})
	}
	api := server.New(srvCfg)
	defer api.Close()

	errCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
