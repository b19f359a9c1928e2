package editor

import (
	"context"
	"errors"
	"sync"

	"inkwell/internal/assist"
	"inkwell/internal/httpx"
)

type State string

const (
	Idle       State = "idle"
	Requesting State = "requesting"
	Streaming  State = "streaming"
	Completed  State = "completed"
	Failed     State = "failed"
	Cancelled  State = "cancelled"
)

var ErrBusy = errors.New("an AI action is already running")

// Engine runs at most one Session against a Buffer.
type Engine struct {
	buf *Buffer

	mu        sync.Mutex
	state     State
	last      State
	session   *Session
	cancel    context.CancelFunc
	cancelled bool
}

func NewEngine(buf *Buffer) *Engine {
	return &Engine{buf: buf, state: Idle, last: Idle}
}

// Acquire moves Idle to Requesting. Every successful Acquire must be paired
// with Finish or Release.
func (e *Engine) Acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return ErrBusy
	}
	e.state = Requesting
	e.cancelled = false
	return nil
}

// Release returns to Idle without recording an outcome, for triggers that
// were refused before any request went out.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = Idle
	e.session = nil
	e.cancel = nil
}

// Run streams req into the buffer through s and reports the terminal state.
// The session is Streaming from the first 2xx response, or from the first
// chunk for assistants that do not go through httpx.Open. Cancelling ctx
// ends in Cancelled like Cancel does. onChange is called after every splice,
// outside the engine lock.
func (e *Engine) Run(ctx context.Context, s *Session, a assist.Assistant, req assist.Request, onChange func()) (State, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = httpx.WithResponseHook(runCtx, e.markStreaming)

	e.mu.Lock()
	e.session = s
	e.cancel = cancel
	if e.cancelled {
		e.state = Cancelled
		e.mu.Unlock()
		return Cancelled, context.Canceled
	}
	e.mu.Unlock()

	err := a.Stream(runCtx, req, func(chunk string) {
		if runCtx.Err() != nil {
			return
		}
		e.mu.Lock()
		if e.cancelled {
			e.mu.Unlock()
			return
		}
		e.state = Streaming
		s.Apply(e.buf, chunk)
		e.mu.Unlock()
		if onChange != nil {
			onChange()
		}
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.cancelled, errors.Is(ctx.Err(), context.Canceled):
		e.state = Cancelled
	case err != nil:
		e.state = Failed
	default:
		e.state = Completed
	}
	return e.state, err
}

func (e *Engine) markStreaming() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Requesting && !e.cancelled {
		e.state = Streaming
	}
}

// Finish records the terminal state and returns the engine to Idle.
func (e *Engine) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = e.state
	e.state = Idle
	e.session = nil
	e.cancel = nil
}

// Cancel stops the running stream. Text already spliced stays.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Requesting && e.state != Streaming {
		return false
	}
	e.cancelled = true
	if e.cancel != nil {
		e.cancel()
	}
	return true
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastOutcome is the terminal state of the previous session.
func (e *Engine) LastOutcome() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Session returns a copy of the running session, or nil when idle.
func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	s := *e.session
	return &s
}

func (e *Engine) Busy() bool {
	return e.State() != Idle
}
