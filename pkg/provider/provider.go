// Package provider defines the contract every AI conversion backend satisfies.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/polyglot/pkg/models"
)

// ErrEmptyOutput is returned when a provider answers with no code.
var ErrEmptyOutput = errors.New("provider returned empty output")

// Invoker converts a request into target-language source text. Implementations
// must return once timeout elapses or ctx is done, whichever comes first.
type Invoker interface {
	Invoke(ctx context.Context, req models.ConversionRequest, timeout time.Duration) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req models.ConversionRequest, timeout time.Duration) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req models.ConversionRequest, timeout time.Duration) (string, error) {
	return f(ctx, req, timeout)
}

// Error describes a failed invocation.
type Error struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth trying on another provider.
// Transport errors and 5xx/429 responses are retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return err != nil
}
