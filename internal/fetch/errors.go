package fetch

import (
	"errors"
	"fmt"

	"github.com/NEXORA-Studios/NovaCL/internal/data"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
)

// ErrRangeIgnored is returned when a ranged request is answered with the
// whole resource.
var ErrRangeIgnored = errors.New("server ignored range request")

// Error carries the failure class of a fetch. Kind is one of
// data.ErrNetwork, data.ErrProtocol or data.ErrIO, so callers can match it
// with errors.Is.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	metrics.FetchErrors.WithLabelValues(kindLabel(kind)).Inc()
	return &Error{Kind: kind, Op: op, Err: err}
}

// Retryable reports whether err is a transient network failure.
func Retryable(err error) bool {
	return errors.Is(err, data.ErrNetwork)
}

func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, data.ErrNetwork):
		return "network"
	case errors.Is(kind, data.ErrProtocol):
		return "protocol"
	case errors.Is(kind, data.ErrIO):
		return "io"
	default:
		return "other"
	}
}
