// Package session orchestrates provider selection, fetching, buffer
// tracking, and quality adaptation for one piece of content, and exposes
// the surface the presentation layer talks to.
package session

// State is the lifecycle state of a stream session.
type State int

const (
	// StateIdle means no content is loaded.
	StateIdle State = iota
	// StateResolving means the content id is being validated.
	StateResolving
	// StateLoading means the initial buffer is filling.
	StateLoading
	// StatePlaying means playback has enough buffered content.
	StatePlaying
	// StateBuffering means buffer health degraded; fetching continues
	// while the presentation layer shows buffering UI.
	StateBuffering
	// StateRecovering means a stall timed out and provider switches are
	// being attempted.
	StateRecovering
	// StateFailed is terminal for the current content.
	StateFailed
	// StateDisposed is terminal; all resources are released.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateBuffering:
		return "buffering"
	case StateRecovering:
		return "recovering"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// terminal reports whether the state accepts no further transitions
// except dispose.
func (s State) terminal() bool {
	return s == StateFailed || s == StateDisposed
}

// active reports whether the session is driving fetches.
func (s State) active() bool {
	switch s {
	case StateLoading, StatePlaying, StateBuffering, StateRecovering:
		return true
	default:
		return false
	}
}
