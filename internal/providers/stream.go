package providers

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"inkwell/internal/httpx"
	"inkwell/internal/metrics"
	"inkwell/internal/sse"
)

// Deps are the shared collaborators every adapter is built with.
type Deps struct {
	HTTP    *httpx.Client
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func (d Deps) WithDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = metrics.Global()
	}
	if d.HTTP == nil {
		d.HTTP = httpx.New(httpx.Config{Metrics: d.Metrics, Logger: d.Logger})
	}
	return d
}

// DecodeFunc turns one data payload into a text delta. done ends the stream
// after delta is delivered. A *StreamError aborts the stream; any other
// error marks the frame as undecodable and it is skipped.
type DecodeFunc func(ev sse.Event, payload string) (delta string, done bool, err error)

// ConsumeStream feeds the deltas of an SSE body to onChunk, in order, on the
// calling goroutine.
func ConsumeStream(ctx context.Context, body io.Reader, provider string, deps Deps, decode DecodeFunc, onChunk func(string)) error {
	dec := sse.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return httpx.Classify(ctx, err)
		}
		for _, payload := range ev.Data {
			if sse.IsDone(payload) {
				return nil
			}
			delta, done, err := decode(ev, payload)
			if err != nil {
				var serr *StreamError
				if errors.As(err, &serr) {
					return err
				}
				deps.Metrics.StreamFramesSkipped.WithLabelValues(provider).Inc()
				deps.Logger.Warn().
					Err(err).
					Str("provider", provider).
					Str("event", ev.Name).
					Msg("skip undecodable stream frame")
				continue
			}
			if delta != "" {
				deps.Metrics.StreamChunks.WithLabelValues(provider).Inc()
				onChunk(delta)
			}
			if done {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return httpx.Classify(ctx, err)
		}
	}
}
