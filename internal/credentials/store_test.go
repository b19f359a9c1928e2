package credentials

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"inkwell/internal/providers"
	"inkwell/internal/storage"
)

func newStore(kv KV) *Store {
	return New(Config{
		Storage: kv,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

type listingKV interface {
	KV
	Keys(ctx context.Context) ([]string, error)
}

// requireSealed walks every entry in kv and fails if any value carries the
// plaintext secret.
func requireSealed(t *testing.T, kv listingKV, secret string) {
	t.Helper()
	ctx := context.Background()
	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, keys)
	for _, k := range keys {
		v, err := kv.GetItem(ctx, k)
		require.NoError(t, err, k)
		require.NotContains(t, v, secret, "%s stores the api key in plaintext", k)
	}
}

func backends(t *testing.T) map[string]listingKV {
	t.Helper()
	sqlStore, err := storage.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "inkwell.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]listingKV{
		"memory": storage.NewMemoryStore(),
		"sqlite": sqlStore,
		"redis":  storage.NewRedisStore(rdb, "inkwell:test:"),
	}
}

func TestNoBackendHoldsPlaintextKey(t *testing.T) {
	ctx := context.Background()
	apiKey := "sk-ant-api03-" + strings.Repeat("Zq9_", 10)
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(kv)
			require.NoError(t, s.SaveConfig(ctx, providers.Config{ServiceType: providers.Anthropic, APIKey: apiKey}))
			require.NoError(t, s.UpdateConfig(ctx, Patch{Model: providers.Ptr("claude-3-haiku-20240307")}))
			requireSealed(t, kv, apiKey)

			cfg, err := s.GetConfig(ctx)
			require.NoError(t, err)
			require.Equal(t, apiKey, cfg.APIKey)
		})
	}
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newStore(kv)

	apiKey := "sk-" + strings.Repeat("a1B2", 12)
	in := providers.Config{
		ServiceType: providers.OpenAI,
		APIKey:      apiKey,
		Model:       "gpt-4o",
		MaxTokens:   providers.Ptr(512),
		Temperature: providers.Ptr(0.3),
	}
	require.NoError(t, s.SaveConfig(ctx, in))

	requireSealed(t, kv, apiKey)
	raw, err := kv.GetItem(ctx, ConfigKey)
	require.NoError(t, err)
	require.Contains(t, raw, `"lastUpdated":"2026-03-01T12:00:00Z"`)

	jwk, err := kv.GetItem(ctx, EncryptionKeyKey)
	require.NoError(t, err)
	require.Contains(t, jwk, `"kty":"oct"`)

	out, err := s.GetConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, in, *out)
}

func TestSaveReusesKeyAndFreshNonce(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newStore(kv)
	cfg := providers.Config{ServiceType: providers.DeepSeek, APIKey: "sk-same"}

	require.NoError(t, s.SaveConfig(ctx, cfg))
	key1, _ := kv.GetItem(ctx, EncryptionKeyKey)
	rec1, _ := kv.GetItem(ctx, ConfigKey)

	require.NoError(t, s.SaveConfig(ctx, cfg))
	key2, _ := kv.GetItem(ctx, EncryptionKeyKey)
	rec2, _ := kv.GetItem(ctx, ConfigKey)

	require.Equal(t, key1, key2, "key is generated once per profile")
	require.NotEqual(t, rec1, rec2, "each save must use a fresh nonce")
}

func TestGetConfigAbsentOrUnrecoverable(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newStore(kv)

	cfg, err := s.GetConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg)

	require.NoError(t, s.SaveConfig(ctx, providers.Config{ServiceType: providers.Qwen, APIKey: "sk-q"}))

	// Losing the key makes the record unreadable, and reads must not mint a new one.
	require.NoError(t, kv.RemoveItem(ctx, EncryptionKeyKey))
	cfg, err = s.GetConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg)
	_, err = kv.GetItem(ctx, EncryptionKeyKey)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, kv.SetItem(ctx, ConfigKey, "{broken"))
	cfg, err = s.GetConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg)
}

func TestGetConfigWithForeignKey(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, newStore(kv).SaveConfig(ctx, providers.Config{ServiceType: providers.Gemini, APIKey: "AIza-1"}))

	other := storage.NewMemoryStore()
	require.NoError(t, newStore(other).SaveConfig(ctx, providers.Config{ServiceType: providers.Gemini, APIKey: "AIza-2"}))
	foreignKey, _ := other.GetItem(ctx, EncryptionKeyKey)
	require.NoError(t, kv.SetItem(ctx, EncryptionKeyKey, foreignKey))

	cfg, err := newStore(kv).GetConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg, "a record sealed under another key reads as unconfigured")
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	s := newStore(kv)

	err := s.UpdateConfig(ctx, Patch{Model: providers.Ptr("x")})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveConfig(ctx, providers.Config{ServiceType: providers.Anthropic, APIKey: "sk-ant-api03-abc"}))
	require.NoError(t, s.UpdateConfig(ctx, Patch{Model: providers.Ptr("claude-3-haiku-20240307"), Temperature: providers.Ptr(1.0)}))

	cfg, err := s.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, "sk-ant-api03-abc", cfg.APIKey)
	require.Equal(t, "claude-3-haiku-20240307", cfg.Model)
	require.Equal(t, 1.0, *cfg.Temperature)

	err = s.UpdateConfig(ctx, Patch{Temperature: providers.Ptr(3.0)})
	require.ErrorIs(t, err, providers.ErrInvalidConfig)

	require.NoError(t, s.DeleteConfig(ctx))
	require.NoError(t, s.DeleteConfig(ctx))
	cfg, err = s.GetConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg)

	_, err = kv.GetItem(ctx, EncryptionKeyKey)
	require.NoError(t, err, "clearing the config keeps the key")
}

func TestSaveRejectsInvalidConfig(t *testing.T) {
	s := newStore(storage.NewMemoryStore())
	err := s.SaveConfig(context.Background(), providers.Config{ServiceType: "llama", APIKey: "k"})
	require.ErrorIs(t, err, providers.ErrInvalidConfig)
}

type failingKV struct{ *storage.MemoryStore }

func (f failingKV) SetItem(ctx context.Context, key, value string) error {
	if key == EncryptionKeyKey {
		return errors.New("quota exceeded")
	}
	return f.MemoryStore.SetItem(ctx, key, value)
}

func TestSaveFailsWhenKeyCannotBePersisted(t *testing.T) {
	s := newStore(failingKV{storage.NewMemoryStore()})
	err := s.SaveConfig(context.Background(), providers.Config{ServiceType: providers.OpenAI, APIKey: "sk-x"})
	require.ErrorIs(t, err, ErrEncryption)
}

func TestValidateAPIKey(t *testing.T) {
	cases := []struct {
		st   providers.ServiceType
		key  string
		want bool
	}{
		{providers.OpenAI, "sk-" + strings.Repeat("x", 48), true},
		{providers.OpenAI, "sk-" + strings.Repeat("x", 47), false},
		{providers.OpenAI, "sk-proj-" + strings.Repeat("x", 40), false},
		{providers.Anthropic, "sk-ant-api03-AbC_d-e", true},
		{providers.Anthropic, "sk-AbC", false},
		{providers.Gemini, "AIzaSyA-1_b", true},
		{providers.Gemini, "aiza123", false},
		{providers.Doubao, "lk-abc_1", true},
		{providers.DeepSeek, "sk-abc-123", true},
		{providers.Qwen, "sk-abc_123", true},
		{providers.Qwen, "ak-abc", false},
		{providers.Custom, "anything at all", true},
		{providers.Custom, "   ", false},
		{"llama", "sk-abc", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ValidateAPIKey(c.st, c.key), "%s %q", c.st, c.key)
	}
}

func TestMaskedConfig(t *testing.T) {
	ctx := context.Background()
	s := newStore(storage.NewMemoryStore())

	m, err := s.MaskedConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, m)

	require.NoError(t, s.SaveConfig(ctx, providers.Config{ServiceType: providers.DeepSeek, APIKey: "sk-abcdefghijwxyz"}))
	m, err = s.MaskedConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, "sk-a…wxyz", m.APIKey)
	require.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), m.LastUpdated)
	require.Equal(t, "****", MaskKey("abcd"))
}
