// Package notify delivers transient user-facing notifications ("toasts").
package notify

import (
	"sync"

	"github.com/rentafacil/rentchat/internal/logger"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Toast is one transient notification.
type Toast struct {
	Level   Level
	Message string
}

// Notifier shows toasts. Implementations must not block the caller.
type Notifier interface {
	Notify(t Toast)
}

// Error is shorthand for an error toast. A nil notifier drops the toast.
func Error(n Notifier, msg string) {
	if n == nil {
		return
	}
	n.Notify(Toast{Level: LevelError, Message: msg})
}

// Info is shorthand for an info toast.
func Info(n Notifier, msg string) {
	if n == nil {
		return
	}
	n.Notify(Toast{Level: LevelInfo, Message: msg})
}

// Log writes toasts to the log; used when no UI is attached.
type Log struct{}

func (Log) Notify(t Toast) {
	if t.Level == LevelError {
		logger.Errorf("toast: %s", t.Message)
		return
	}
	logger.Infof("toast: %s", t.Message)
}

// Func adapts a function to Notifier.
type Func func(Toast)

func (f Func) Notify(t Toast) { f(t) }

// Recorder keeps every toast; tests and headless callers read them back.
type Recorder struct {
	mu     sync.Mutex
	toasts []Toast
}

func (r *Recorder) Notify(t Toast) {
	r.mu.Lock()
	r.toasts = append(r.toasts, t)
	r.mu.Unlock()
}

// Toasts returns a copy of the recorded toasts.
func (r *Recorder) Toasts() []Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Toast(nil), r.toasts...)
}
