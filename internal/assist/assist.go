// Package assist defines the text-assist request shared by the editor and
// the two ways of fulfilling it: the novel backend or a vendor called
// directly with the locally stored credentials.
package assist

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"inkwell/internal/prompts"
	"inkwell/internal/providers"
	"inkwell/internal/providers/registry"
)

type Mode string

const (
	Continue Mode = "continue"
	Generate Mode = "generate"
	Improve  Mode = "improve"
	Expand   Mode = "expand"
)

func (m Mode) Valid() bool {
	switch m {
	case Continue, Generate, Improve, Expand:
		return true
	}
	return false
}

// NeedsSelection reports whether the mode rewrites selected text.
func (m Mode) NeedsSelection() bool {
	return m == Improve || m == Expand
}

var ErrNotConfigured = errors.New("AI service is not configured")

type Request struct {
	Mode      Mode
	NovelID   string
	ChapterID string
	Title     string

	PrecedingText string
	FollowingText string
	Content       string
}

// Assistant streams generated text for req. onChunk is called in order on
// the calling goroutine.
type Assistant interface {
	Stream(ctx context.Context, req Request, onChunk func(string)) error
}

// Checker is implemented by assistants that can refuse a request before any
// text is touched, for example when no vendor is configured.
type Checker interface {
	Ready(ctx context.Context) error
}

type ConfigSource interface {
	GetConfig(ctx context.Context) (*providers.Config, error)
}

type DirectConfig struct {
	Credentials ConfigSource
	Deps        providers.Deps
	Style       string
	WorldBible  string
	Logger      zerolog.Logger
}

// Direct calls the configured vendor itself. The stored config is read on
// every call, so settings changes apply to the next action.
type Direct struct {
	cfg DirectConfig
}

func NewDirect(cfg DirectConfig) *Direct {
	cfg.Deps = cfg.Deps.WithDefaults()
	return &Direct{cfg: cfg}
}

var (
	_ Assistant = (*Direct)(nil)
	_ Checker   = (*Direct)(nil)
)

func (d *Direct) Ready(ctx context.Context) error {
	pcfg, err := d.cfg.Credentials.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load provider config: %w", err)
	}
	if pcfg == nil {
		return ErrNotConfigured
	}
	return pcfg.Validate()
}

func (d *Direct) Stream(ctx context.Context, req Request, onChunk func(string)) error {
	pcfg, err := d.cfg.Credentials.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("load provider config: %w", err)
	}
	if pcfg == nil {
		return ErrNotConfigured
	}
	p, err := registry.Build(*pcfg, d.cfg.Deps)
	if err != nil {
		return err
	}
	prompt, err := prompts.Render(string(req.Mode), prompts.Fields{
		Title:         req.Title,
		Style:         d.cfg.Style,
		WorldBible:    d.cfg.WorldBible,
		PrecedingText: req.PrecedingText,
		FollowingText: req.FollowingText,
		Content:       req.Content,
	})
	if err != nil {
		return err
	}
	d.cfg.Logger.Debug().
		Str("provider", p.Name()).
		Str("mode", string(req.Mode)).
		Str("chapter_id", req.ChapterID).
		Msg("direct assist stream")
	return p.GenerateStream(ctx, prompt, providers.Options{}, onChunk)
}

// Probe builds the stored provider and runs its connection test.
func (d *Direct) Probe(ctx context.Context) (bool, error) {
	pcfg, err := d.cfg.Credentials.GetConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("load provider config: %w", err)
	}
	if pcfg == nil {
		return false, ErrNotConfigured
	}
	p, err := registry.Build(*pcfg, d.cfg.Deps)
	if err != nil {
		return false, err
	}
	return p.TestConnection(ctx), nil
}
