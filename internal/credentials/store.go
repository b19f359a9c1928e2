package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inkwell/internal/crypto"
	"inkwell/internal/providers"
	"inkwell/internal/storage"
)

const (
	ConfigKey        = "ai_service_config"
	EncryptionKeyKey = "ai_config_encryption_key"
)

var (
	ErrEncryption = errors.New("credential encryption failed")
	ErrNotFound   = errors.New("no provider config stored")
)

// KV is the local storage the store persists into. GetItem reports a
// missing key with storage.ErrNotFound.
type KV interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

type Config struct {
	Storage KV
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Store keeps the single active provider config with its API key sealed
// under a per-profile AES-256-GCM key.
type Store struct {
	kv  KV
	log zerolog.Logger
	now func() time.Time

	mu sync.Mutex
}

func New(cfg Config) *Store {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{kv: cfg.Storage, log: cfg.Logger, now: cfg.Now}
}

type record struct {
	ServiceType  providers.ServiceType `json:"serviceType"`
	APIKey       string                `json:"apiKey"`
	BaseURL      string                `json:"baseUrl,omitempty"`
	Model        string                `json:"model,omitempty"`
	MaxTokens    *int                  `json:"maxTokens,omitempty"`
	Temperature  *float64              `json:"temperature,omitempty"`
	Headers      map[string]string     `json:"headers,omitempty"`
	BodyTemplate string                `json:"bodyTemplate,omitempty"`
	LastUpdated  string                `json:"lastUpdated"`
}

func (s *Store) SaveConfig(ctx context.Context, cfg providers.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, cfg)
}

func (s *Store) save(ctx context.Context, cfg providers.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	key, err := s.loadOrCreateKey(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	mgr, err := crypto.NewManager(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	sealed, err := mgr.MarshalEncryptedString(cfg.APIKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	b, err := json.Marshal(record{
		ServiceType:  cfg.ServiceType,
		APIKey:       sealed,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		Headers:      cfg.Headers,
		BodyTemplate: cfg.BodyTemplate,
		LastUpdated:  s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal config record: %w", err)
	}
	if err := s.kv.SetItem(ctx, ConfigKey, string(b)); err != nil {
		return fmt.Errorf("store config record: %w", err)
	}
	s.log.Info().Str("service_type", string(cfg.ServiceType)).Msg("provider config saved")
	return nil
}

// GetConfig returns nil when nothing usable is stored. A record that cannot
// be decoded or decrypted is logged and treated as absent; only storage
// failures are returned.
func (s *Store) GetConfig(ctx context.Context) (*providers.Config, error) {
	cfg, _, err := s.get(ctx)
	return cfg, err
}

func (s *Store) get(ctx context.Context) (*providers.Config, time.Time, error) {
	raw, err := s.kv.GetItem(ctx, ConfigKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load config record: %w", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.log.Error().Err(err).Msg("stored provider config is malformed")
		return nil, time.Time{}, nil
	}

	key, err := s.loadKey(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, crypto.ErrInvalidKey) {
			s.log.Error().Err(err).Msg("encryption key unavailable, provider config is unrecoverable")
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, err
	}
	mgr, err := crypto.NewManager(key)
	if err != nil {
		s.log.Error().Err(err).Msg("encryption key unusable, provider config is unrecoverable")
		return nil, time.Time{}, nil
	}
	apiKey, err := mgr.UnmarshalEncryptedString(rec.APIKey)
	if err != nil {
		s.log.Error().Err(err).Msg("decrypt provider api key")
		return nil, time.Time{}, nil
	}

	updated, _ := time.Parse(time.RFC3339, rec.LastUpdated)
	return &providers.Config{
		ServiceType:  rec.ServiceType,
		APIKey:       apiKey,
		BaseURL:      rec.BaseURL,
		Model:        rec.Model,
		MaxTokens:    rec.MaxTokens,
		Temperature:  rec.Temperature,
		Headers:      rec.Headers,
		BodyTemplate: rec.BodyTemplate,
	}, updated, nil
}

// Patch carries the fields UpdateConfig changes; nil fields are kept.
type Patch struct {
	ServiceType  *providers.ServiceType `json:"serviceType,omitempty"`
	APIKey       *string                `json:"apiKey,omitempty"`
	BaseURL      *string                `json:"baseUrl,omitempty"`
	Model        *string                `json:"model,omitempty"`
	MaxTokens    *int                   `json:"maxTokens,omitempty"`
	Temperature  *float64               `json:"temperature,omitempty"`
	Headers      map[string]string      `json:"headers,omitempty"`
	BodyTemplate *string                `json:"bodyTemplate,omitempty"`
}

func (s *Store) UpdateConfig(ctx context.Context, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _, err := s.get(ctx)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	next := *cur
	if patch.ServiceType != nil {
		next.ServiceType = *patch.ServiceType
	}
	if patch.APIKey != nil {
		next.APIKey = *patch.APIKey
	}
	if patch.BaseURL != nil {
		next.BaseURL = *patch.BaseURL
	}
	if patch.Model != nil {
		next.Model = *patch.Model
	}
	if patch.MaxTokens != nil {
		next.MaxTokens = patch.MaxTokens
	}
	if patch.Temperature != nil {
		next.Temperature = patch.Temperature
	}
	if patch.Headers != nil {
		next.Headers = patch.Headers
	}
	if patch.BodyTemplate != nil {
		next.BodyTemplate = *patch.BodyTemplate
	}
	return s.save(ctx, next)
}

// DeleteConfig removes the config record. The encryption key is kept.
func (s *Store) DeleteConfig(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.RemoveItem(ctx, ConfigKey); err != nil {
		return fmt.Errorf("remove config record: %w", err)
	}
	s.log.Info().Msg("provider config cleared")
	return nil
}

// Summary is the stored config with the API key masked, for display.
type Summary struct {
	ServiceType providers.ServiceType `json:"serviceType"`
	APIKey      string                `json:"apiKey"`
	BaseURL     string                `json:"baseUrl,omitempty"`
	Model       string                `json:"model,omitempty"`
	MaxTokens   *int                  `json:"maxTokens,omitempty"`
	Temperature *float64              `json:"temperature,omitempty"`
	LastUpdated time.Time             `json:"lastUpdated"`
}

func (s *Store) MaskedConfig(ctx context.Context) (*Summary, error) {
	cfg, updated, err := s.get(ctx)
	if err != nil || cfg == nil {
		return nil, err
	}
	return &Summary{
		ServiceType: cfg.ServiceType,
		APIKey:      MaskKey(cfg.APIKey),
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		LastUpdated: updated,
	}, nil
}

func (s *Store) loadKey(ctx context.Context) (crypto.Key, error) {
	raw, err := s.kv.GetItem(ctx, EncryptionKeyKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return crypto.Key{}, err
		}
		return crypto.Key{}, fmt.Errorf("load encryption key: %w", err)
	}
	key, err := crypto.ParseJWK([]byte(raw))
	if err != nil {
		return crypto.Key{}, fmt.Errorf("%w: %v", crypto.ErrInvalidKey, err)
	}
	return key, nil
}

// loadOrCreateKey generates and persists the profile key on first use. An
// unparsable key is replaced, since the record it protected is about to be
// overwritten anyway.
func (s *Store) loadOrCreateKey(ctx context.Context) (crypto.Key, error) {
	key, err := s.loadKey(ctx)
	if err == nil {
		return key, nil
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, crypto.ErrInvalidKey):
		s.log.Warn().Err(err).Msg("replacing unusable encryption key")
	default:
		return crypto.Key{}, err
	}

	key, err = crypto.GenerateKey()
	if err != nil {
		return crypto.Key{}, err
	}
	jwk, err := key.MarshalJWK()
	if err != nil {
		return crypto.Key{}, err
	}
	if err := s.kv.SetItem(ctx, EncryptionKeyKey, string(jwk)); err != nil {
		return crypto.Key{}, fmt.Errorf("persist encryption key: %w", err)
	}
	return key, nil
}
