package session

import (
	"errors"
	"fmt"
)

// ErrProviderExhausted is raised when every ranked provider has been
// tried within one recovery episode without restoring playback.
var ErrProviderExhausted = errors.New("all providers exhausted")

// ErrStallTimeout marks a stall window elapsing; it triggers recovery
// and is surfaced as a recoverable error, never a terminal one.
var ErrStallTimeout = errors.New("stall timeout")

// ErrDisposed is returned by operations on a disposed session.
var ErrDisposed = errors.New("session disposed")

// ErrNoContent is returned by operations that need loaded content.
var ErrNoContent = errors.New("no content loaded")

// ValidationError means the content id itself is invalid. It is fatal:
// no provider switch can help.
type ValidationError struct {
	ContentID string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid content %q: %s", e.ContentID, e.Reason)
}

// IsValidationError reports whether err is a content validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
