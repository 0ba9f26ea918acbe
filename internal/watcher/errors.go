package watcher

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOptions is returned by Start for unusable options or strategies.
	ErrInvalidOptions = errors.New("invalid watcher options")

	// ErrConnectTimeout is reported when Subscribe does not settle within ConnectTimeout.
	ErrConnectTimeout = errors.New("subscribe timed out")

	// ErrNilStream is reported when Subscribe returns neither a stream nor an error.
	ErrNilStream = errors.New("subscribe returned no stream")

	// ErrNoPollStrategy is the unrecoverable condition: the subscription is
	// gone and there is no poll function to fall back to.
	ErrNoPollStrategy = errors.New("subscription failed and no poll strategy is available")
)

// Kind classifies a watcher failure.
type Kind int

const (
	// KindConnect is a failed or timed out subscribe attempt.
	KindConnect Kind = iota + 1
	// KindStream is an error while consuming an established subscription.
	KindStream
	// KindPoll is a failed poll cycle.
	KindPoll
	// KindUnrecoverable stops the watcher.
	KindUnrecoverable
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindStream:
		return "stream"
	case KindPoll:
		return "poll"
	case KindUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Error is the error passed to OnError.
type Error struct {
	Kind Kind
	// Attempt is the consecutive connect attempt number for KindConnect, zero otherwise.
	Attempt int
	Err     error
}

func (e *Error) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("watcher %s failure (attempt %d): %v", e.Kind, e.Attempt, e.Err)
	}
	return fmt.Sprintf("watcher %s failure: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUnrecoverable reports whether err stopped the watcher.
func IsUnrecoverable(err error) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Kind == KindUnrecoverable
}
