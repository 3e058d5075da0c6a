package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a ConversionError. Cache corruption has no kind: the cache
// reports it as cache.ErrCacheCorruption and serves a miss.
type Kind string

const (
	KindInvalidRequest           Kind = "invalid_request"
	KindUnsupportedLanguagePair  Kind = "unsupported_language_pair"
	KindQuotaExceeded            Kind = "quota_exceeded"
	KindProviderTimeout          Kind = "provider_timeout"
	KindProviderInvocationFailed Kind = "provider_invocation_failed"
	KindAllProvidersUnavailable  Kind = "all_providers_unavailable"
	KindTimeout                  Kind = "timeout"
	KindCanceled                 Kind = "canceled"
)

// Outcome is the result of one candidate attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeCircuitOpen Outcome = "circuit_open"
	OutcomeQuota       Outcome = "quota_exceeded"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeFailed      Outcome = "failed"
)

// Attempt records what happened when a candidate was considered.
type Attempt struct {
	Provider string  `json:"provider"`
	Outcome  Outcome `json:"outcome"`
	Err      error   `json:"-"`
}

func (a Attempt) String() string {
	if a.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", a.Provider, a.Outcome, a.Err)
	}
	return fmt.Sprintf("%s: %s", a.Provider, a.Outcome)
}

// ConversionError is the error returned by every failed conversion.
type ConversionError struct {
	Kind     Kind
	Message  string
	Attempts []Attempt
	Err      error
}

func (e *ConversionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Kind, e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, " (%v)", e.Err)
	}
	if len(e.Attempts) > 0 {
		parts := make([]string, len(e.Attempts))
		for i, a := range e.Attempts {
			parts[i] = a.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}
	return b.String()
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Is matches any ConversionError of the same kind.
func (e *ConversionError) Is(target error) bool {
	t, ok := target.(*ConversionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest           = &ConversionError{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrUnsupportedLanguagePair  = &ConversionError{Kind: KindUnsupportedLanguagePair, Message: "no provider supports the language pair"}
	ErrQuotaExceeded            = &ConversionError{Kind: KindQuotaExceeded, Message: "quota exceeded"}
	ErrProviderTimeout          = &ConversionError{Kind: KindProviderTimeout, Message: "provider timed out"}
	ErrProviderInvocationFailed = &ConversionError{Kind: KindProviderInvocationFailed, Message: "provider invocation failed"}
	ErrAllProvidersUnavailable  = &ConversionError{Kind: KindAllProvidersUnavailable, Message: "all providers unavailable"}
	ErrTimeout                  = &ConversionError{Kind: KindTimeout, Message: "timed out"}
	ErrCanceled                 = &ConversionError{Kind: KindCanceled, Message: "canceled"}
)

// KindOf returns the kind of a ConversionError in err's chain, or "".
func KindOf(err error) Kind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}
