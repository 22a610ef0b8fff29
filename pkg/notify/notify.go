// Package notify carries user-visible notifications out of the sync core.
// The rendering surface is external; components only raise values through
// the Notifier sink.
package notify

import "log/slog"

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

type Notification struct {
	Title    string
	Message  string
	Severity Severity
}

// Notifier is the external sink for user-visible conditions: connectivity
// status, storage degradation, allocator fallback failures.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a function to the Notifier interface.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

// Log is a Notifier that writes notifications to slog. Used as the default
// sink when the embedder does not supply one.
var Log Notifier = Func(func(n Notification) {
	switch n.Severity {
	case SeverityError:
		slog.Error(n.Title, "message", n.Message)
	case SeverityWarning:
		slog.Warn(n.Title, "message", n.Message)
	default:
		slog.Info(n.Title, "message", n.Message)
	}
})
