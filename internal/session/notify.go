package session

import (
	"context"

	"github.com/jmylchreest/mediaflow/internal/buffer"
	"github.com/jmylchreest/mediaflow/internal/quality"
)

// Notifier receives session side effects. Calls are serialized with
// respect to state transitions and arrive from a single goroutine, so
// implementations need no locking of their own against the session.
type Notifier interface {
	OnSourceChanged(sessionID, providerName string)
	OnQualityChanged(sessionID string, tier quality.Tier)
	OnBufferHealth(sessionID string, health buffer.Health)
	OnRecoverableError(sessionID, kind string, err error)
	OnFatalError(sessionID, kind string, err error)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) OnSourceChanged(string, string) {}

func (NopNotifier) OnQualityChanged(string, quality.Tier) {}

func (NopNotifier) OnBufferHealth(string, buffer.Health) {}

func (NopNotifier) OnRecoverableError(string, string, error) {}

func (NopNotifier) OnFatalError(string, string, error) {}

// FuncNotifier routes notifications to optional callbacks. Nil fields
// are skipped.
type FuncNotifier struct {
	SourceChanged    func(sessionID, providerName string)
	QualityChanged   func(sessionID string, tier quality.Tier)
	BufferHealth     func(sessionID string, health buffer.Health)
	RecoverableError func(sessionID, kind string, err error)
	FatalError       func(sessionID, kind string, err error)
}

func (f *FuncNotifier) OnSourceChanged(id, name string) {
	if f.SourceChanged != nil {
		f.SourceChanged(id, name)
	}
}

func (f *FuncNotifier) OnQualityChanged(id string, tier quality.Tier) {
	if f.QualityChanged != nil {
		f.QualityChanged(id, tier)
	}
}

func (f *FuncNotifier) OnBufferHealth(id string, health buffer.Health) {
	if f.BufferHealth != nil {
		f.BufferHealth(id, health)
	}
}

func (f *FuncNotifier) OnRecoverableError(id, kind string, err error) {
	if f.RecoverableError != nil {
		f.RecoverableError(id, kind, err)
	}
}

func (f *FuncNotifier) OnFatalError(id, kind string, err error) {
	if f.FatalError != nil {
		f.FatalError(id, kind, err)
	}
}

// Validator checks a content id with external metadata before any
// provider work starts.
type Validator interface {
	Validate(ctx context.Context, contentID string) error
}

// ValidatorFunc adapts a function to a Validator.
type ValidatorFunc func(ctx context.Context, contentID string) error

// Validate calls the wrapped function.
func (f ValidatorFunc) Validate(ctx context.Context, contentID string) error {
	return f(ctx, contentID)
}

// defaultValidator rejects only empty content ids.
func defaultValidator() Validator {
	return ValidatorFunc(func(_ context.Context, contentID string) error {
		if contentID == "" {
			return &ValidationError{ContentID: contentID, Reason: "empty content id"}
		}
		return nil
	})
}
