package overfast

import (
	"errors"
	"fmt"
)

// Failure kinds. Callers test with errors.Is.
var (
	// ErrNotFound: the player does not exist upstream. Terminal.
	ErrNotFound = errors.New("player not found upstream")
	// ErrRateLimited: upstream answered 429 on every attempt.
	ErrRateLimited = errors.New("upstream rate limit exceeded")
	// ErrTransient: timeout, connection failure or 5xx after all attempts.
	ErrTransient = errors.New("transient upstream failure")
	// ErrMalformed: the response body is not a JSON document. Terminal.
	ErrMalformed = errors.New("malformed upstream response")
)

// FetchError carries request context for a classified failure.
type FetchError struct {
	Kind      error
	Battletag string
	Status    int
	Err       error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %v", e.Battletag, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
