package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ServiceType string

const (
	OpenAI    ServiceType = "openai"
	Anthropic ServiceType = "anthropic"
	Gemini    ServiceType = "gemini"
	Doubao    ServiceType = "doubao"
	DeepSeek  ServiceType = "deepseek"
	Qwen      ServiceType = "qwen"
	Custom    ServiceType = "custom"
)

var AllServiceTypes = []ServiceType{OpenAI, Anthropic, Gemini, Doubao, DeepSeek, Qwen, Custom}

func (t ServiceType) Valid() bool {
	for _, s := range AllServiceTypes {
		if s == t {
			return true
		}
	}
	return false
}

const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7

	TestPrompt = "Hello, test connection!"
)

var (
	ErrInvalidConfig = errors.New("invalid provider config")
	// ErrEmptyResponse means the vendor answered 2xx without any text.
	ErrEmptyResponse = errors.New("empty response content")
)

// Config is the single active provider configuration.
type Config struct {
	ServiceType ServiceType `json:"serviceType"`
	APIKey      string      `json:"apiKey"`
	BaseURL     string      `json:"baseUrl,omitempty"`
	Model       string      `json:"model,omitempty"`
	MaxTokens   *int        `json:"maxTokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`

	// Headers and BodyTemplate only apply to the custom service.
	Headers      map[string]string `json:"headers,omitempty"`
	BodyTemplate string            `json:"bodyTemplate,omitempty"`
}

func (c Config) Validate() error {
	if !c.ServiceType.Valid() {
		return fmt.Errorf("%w: unsupported service type %q", ErrInvalidConfig, c.ServiceType)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: api key is empty", ErrInvalidConfig)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("%w: temperature %v out of range [0,2]", ErrInvalidConfig, *c.Temperature)
	}
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive", ErrInvalidConfig)
	}
	if c.ServiceType == Custom && strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: custom service needs a base url", ErrInvalidConfig)
	}
	return nil
}

// Options override the config per call. Nil fields fall back to the config,
// then to the package defaults.
type Options struct {
	MaxTokens   *int
	Temperature *float64
	Stop        []string
}

// Resolved is the outcome of merging Options over Config.
type Resolved struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

func Resolve(cfg Config, opts Options) Resolved {
	r := Resolved{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature, Stop: opts.Stop}
	if cfg.MaxTokens != nil {
		r.MaxTokens = *cfg.MaxTokens
	}
	if opts.MaxTokens != nil {
		r.MaxTokens = *opts.MaxTokens
	}
	if cfg.Temperature != nil {
		r.Temperature = *cfg.Temperature
	}
	if opts.Temperature != nil {
		r.Temperature = *opts.Temperature
	}
	return r
}

type Provider interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	GenerateStream(ctx context.Context, prompt string, opts Options, onChunk func(string)) error
	TestConnection(ctx context.Context) bool
	Name() string
}

// StreamError is an error the provider reported inside the stream itself.
type StreamError struct {
	Provider string
	Message  string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream error: %s", e.Provider, e.Message)
}

// Endpoint joins base and path unless base already ends with path.
func Endpoint(base, path string) string {
	base = strings.TrimSpace(base)
	if strings.HasSuffix(base, path) {
		return base
	}
	return strings.TrimSuffix(base, "/") + path
}

// Ptr returns a pointer to v, for optional Config and Options fields.
func Ptr[T any](v T) *T { return &v }

// ProbeConnection issues the standard one-token probe through p and turns
// every failure, panics included, into false. A 2xx answer with no text
// still counts as reachable.
func ProbeConnection(ctx context.Context, p Provider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	_, err := p.Generate(ctx, TestPrompt, Options{MaxTokens: Ptr(1)})
	return err == nil || errors.Is(err, ErrEmptyResponse)
}
