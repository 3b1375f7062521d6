// Package events defines the status-event stream emitted by an enrichment
// run and the plumbing that delivers it: a tagged Event union, an Emitter
// owned by the engine, and an optional NATS publisher for external
// observers.
package events

import (
	"fmt"
	"time"
)

// Kind tags an Event with its variant.
type Kind string

const (
	// KindInfo is an informational message about run progress.
	KindInfo Kind = "info"

	// KindProgress reports processed row counts: Done of Total.
	KindProgress Kind = "progress"

	// KindDebugPrompt carries the full rendered prompt of one request.
	// Emitted only when debug output is enabled.
	KindDebugPrompt Kind = "debug_prompt"

	// KindDebugResponse carries the raw reply text of one request.
	// Emitted only when debug output is enabled.
	KindDebugResponse Kind = "debug_response"

	// KindStopped is the terminal event of a cancelled run.
	KindStopped Kind = "stopped"

	// KindFinish is the terminal event of a completed run.
	KindFinish Kind = "finish"

	// KindError is the terminal event of a run aborted by a fatal error.
	KindError Kind = "error"
)

// Event is one entry of a run's status stream. Exactly one terminal event
// (Stopped, Finish, or Error) is emitted per run, always last.
type Event struct {
	// Kind identifies the variant.
	Kind Kind `json:"kind"`

	// Message holds free text for Info, DebugPrompt, DebugResponse, and
	// Error events.
	Message string `json:"message,omitempty"`

	// Done is the number of rows processed so far (Progress, Stopped,
	// Finish).
	Done int `json:"done"`

	// Total is the number of qualifying rows of the run (Progress, Stopped,
	// Finish).
	Total int `json:"total"`

	// At is the emission timestamp.
	At time.Time `json:"at"`
}

// Info builds an informational event.
func Info(message string) Event {
	return Event{Kind: KindInfo, Message: message, At: time.Now().UTC()}
}

// Progress builds a progress event.
func Progress(done, total int) Event {
	return Event{Kind: KindProgress, Done: done, Total: total, At: time.Now().UTC()}
}

// DebugPrompt builds a debug event carrying a rendered prompt.
func DebugPrompt(text string) Event {
	return Event{Kind: KindDebugPrompt, Message: text, At: time.Now().UTC()}
}

// DebugResponse builds a debug event carrying a raw reply.
func DebugResponse(text string) Event {
	return Event{Kind: KindDebugResponse, Message: text, At: time.Now().UTC()}
}

// Stopped builds the terminal event of a cancelled run.
func Stopped(done, total int) Event {
	return Event{Kind: KindStopped, Done: done, Total: total, At: time.Now().UTC()}
}

// Finish builds the terminal event of a completed run.
func Finish(done, total int) Event {
	return Event{Kind: KindFinish, Done: done, Total: total, At: time.Now().UTC()}
}

// Error builds the terminal event of a failed run.
func Error(message string) Event {
	return Event{Kind: KindError, Message: message, At: time.Now().UTC()}
}

// Terminal reports whether the event ends a run's stream.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindStopped, KindFinish, KindError:
		return true
	}
	return false
}

// String renders the event for logs and terminals.
func (e Event) String() string {
	switch e.Kind {
	case KindProgress, KindStopped, KindFinish:
		return fmt.Sprintf("%s %d/%d", e.Kind, e.Done, e.Total)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Message)
	}
}
