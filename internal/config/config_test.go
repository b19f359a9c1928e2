package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("INKWELL_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("INKWELL_CONFIG", "")
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, AIModeBackend, cfg.AIMode)
	assert.Equal(t, StorageSQL, cfg.Storage.Backend)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ClientTimeout)
	assert.Equal(t, 2, cfg.HTTP.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Editor.AutosaveDelay)
	assert.Equal(t, 2000, cfg.Editor.PrecedingChars)
	assert.Equal(t, 500, cfg.Editor.FollowingChars)
	assert.Zero(t, cfg.Rate.Limit)
	assert.Equal(t, time.Hour, cfg.Rate.Window)
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "inkwell.toml")
	file := `
ai_mode = "direct"

[storage]
backend = "redis"

[redis]
addr = "redis:6379"
prefix = "book:"

[rate]
limit = 20
window = "15m"

[editor]
autosave_delay = "5s"
preceding_chars = 100
`
	require.NoError(t, os.WriteFile(path, []byte(file), 0o600))
	t.Setenv("INKWELL_CONFIG", path)
	t.Setenv("REDIS_ADDR", "127.0.0.1:6390")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AIModeDirect, cfg.AIMode)
	assert.Equal(t, StorageRedis, cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1:6390", cfg.Redis.Addr, "env must override file")
	assert.Equal(t, "book:", cfg.Redis.Prefix)
	assert.Equal(t, int64(20), cfg.Rate.Limit)
	assert.Equal(t, 15*time.Minute, cfg.Rate.Window)
	assert.Equal(t, 5*time.Second, cfg.Editor.AutosaveDelay)
	assert.Equal(t, 100, cfg.Editor.PrecedingChars)
	assert.Equal(t, 500, cfg.Editor.FollowingChars, "unset file keys keep defaults")
}

func TestLoadEnvFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("WRITING_STYLE=冷峻\nRATE_LIMIT=12\nRATE_LIMIT_WINDOW=30m\n"), 0o600))
	t.Setenv("INKWELL_ENV_FILE", path)
	t.Setenv("RATE_LIMIT", "3")
	t.Cleanup(func() {
		_ = os.Unsetenv("WRITING_STYLE")
		_ = os.Unsetenv("RATE_LIMIT_WINDOW")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "冷峻", cfg.Editor.Style)
	assert.Equal(t, int64(3), cfg.Rate.Limit, "process env must win over env file")
	assert.Equal(t, 30*time.Minute, cfg.Rate.Window)
}

func TestLoadValidation(t *testing.T) {
	isolate(t)
	t.Setenv("AI_MODE", "psychic")
	_, err := Load()
	require.ErrorIs(t, err, ErrInvalidAIMode)

	t.Setenv("AI_MODE", "")
	t.Setenv("STORAGE_BACKEND", "floppy")
	_, err = Load()
	require.ErrorIs(t, err, ErrInvalidStorage)
}

func TestLoadBadConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("ai_mode = "), 0o600))
	t.Setenv("INKWELL_CONFIG", path)
	_, err := Load()
	require.Error(t, err)
}
