package dispatcher

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork           = errors.New("dispatcher network error")
	ErrMalformedResponse = errors.New("dispatcher malformed response")
)

// StatusError is returned for non-2xx agent responses. It unwraps to
// ErrNetwork.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("agent responded with status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrNetwork }
