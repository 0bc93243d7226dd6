package fetcher

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Providers classify their failures into exactly one of these so
// the manager and retry controller can decide continue-vs-stop without
// inspecting backend-specific errors.
var (
	// ErrTransient marks connection/timeout failures. Retried.
	ErrTransient = errors.New("transient error")
	// ErrQuota marks an exhausted credential. Terminal for that key.
	ErrQuota = errors.New("quota exhausted")
	// ErrAuth marks an invalid credential. Terminal for that key.
	ErrAuth = errors.New("invalid credential")
	// ErrNotFound marks "no data for this instrument". Terminal for the
	// provider, never retried.
	ErrNotFound = errors.New("no data")
)

// Transient wraps err so that errors.Is(result, ErrTransient) holds.
func Transient(err error) error { return fmt.Errorf("%w: %w", ErrTransient, err) }

// Quota wraps err as a quota-exhaustion failure.
func Quota(err error) error { return fmt.Errorf("%w: %w", ErrQuota, err) }

// Auth wraps err as a credential failure.
func Auth(err error) error { return fmt.Errorf("%w: %w", ErrAuth, err) }

// NotFound builds a no-data failure for the given instrument.
func NotFound(code string) error { return fmt.Errorf("%w for %s", ErrNotFound, code) }

// Retryable reports whether err should be retried against the same provider.
func Retryable(err error) bool { return errors.Is(err, ErrTransient) }

// Attempt records the terminal failure of one provider during an acquisition.
type Attempt struct {
	Provider string
	Err      error
}

// ExhaustedError is returned when every provider failed. It carries the last
// error from each attempted provider for diagnostics.
type ExhaustedError struct {
	Code     string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all providers exhausted for %s", e.Code)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Provider, a.Err)
	}
	return b.String()
}

// Unwrap exposes the per-provider errors to errors.Is/As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
