package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTimeout  = errors.New("request timed out")
	ErrCanceled = errors.New("request canceled")
)

// StatusError is a non-2xx response from a provider or the backend.
type StatusError struct {
	Provider string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Classify maps context failures to ErrTimeout or ErrCanceled. parent is the
// caller's context, so a deadline added below it still counts as a timeout.
func Classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrCanceled) {
		return err
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(parent.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCanceled, err)
	}
	return err
}
