package fetch

import (
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a fetch failure.
type ErrorKind int

const (
	// Transient failures are retryable by switching provider:
	// timeouts, 5xx responses, connection resets.
	Transient ErrorKind = iota

	// Fatal failures mean the content is genuinely absent at this
	// provider: 4xx responses. The provider is penalized but other
	// providers are still worth trying.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure.
type Error struct {
	Kind      ErrorKind
	Provider  string
	ContentID string
	Status    int
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch error from %s (HTTP %d)", e.Kind, e.Provider, e.Status)
	}
	return fmt.Sprintf("%s fetch error from %s: %v", e.Kind, e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient fetch error.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Transient
}

// IsFatal reports whether err is a fatal fetch error.
func IsFatal(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Fatal
}

// classifyStatus maps an HTTP status code to an error kind.
// 4xx means the content is not there; everything else retryable.
func classifyStatus(status int) ErrorKind {
	if status >= 400 && status < 500 {
		return Fatal
	}
	return Transient
}

// classifyTransport maps a transport-level error to an error kind.
// Context cancellation is not classified; it propagates as-is.
func classifyTransport(err error) ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	// Connection resets and other transport failures are retryable
	// against a different provider.
	return Transient
}
