package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// Emitter delivers a run's events to a single consumer channel. It is safe
// for concurrent producers: workers emit debug events while the aggregator
// emits progress. The emitter latches after the first terminal event so a
// stream can never carry two, and it never blocks forever on an abandoned
// consumer: once the run context is done, sends degrade to best-effort.
type Emitter struct {
	ctx      context.Context
	ch       chan Event
	debug    bool
	terminal atomic.Bool
	closed   sync.Once
}

// NewEmitter creates an emitter for one run. The buffer absorbs bursts of
// completions; debug controls whether DebugPrompt/DebugResponse events are
// delivered or silently dropped.
func NewEmitter(ctx context.Context, buffer int, debug bool) *Emitter {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Emitter{
		ctx:   ctx,
		ch:    make(chan Event, buffer),
		debug: debug,
	}
}

// Events returns the consumer side of the stream. The channel is closed
// after the terminal event.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Emit delivers one event. Debug events are dropped unless debug is
// enabled; any event after the terminal one is dropped.
func (e *Emitter) Emit(ev Event) {
	if e.terminal.Load() {
		return
	}
	if !e.debug && (ev.Kind == KindDebugPrompt || ev.Kind == KindDebugResponse) {
		return
	}
	if ev.Terminal() && !e.terminal.CompareAndSwap(false, true) {
		return
	}

	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
		// Consumer may be gone; try once more without blocking so a
		// draining consumer still sees the event.
		select {
		case e.ch <- ev:
		default:
		}
	}
}

// Info emits an informational event.
func (e *Emitter) Info(message string) { e.Emit(Info(message)) }

// Progress emits a progress event.
func (e *Emitter) Progress(done, total int) { e.Emit(Progress(done, total)) }

// DebugPrompt emits a rendered prompt when debug is enabled.
func (e *Emitter) DebugPrompt(text string) { e.Emit(DebugPrompt(text)) }

// DebugResponse emits a raw reply when debug is enabled.
func (e *Emitter) DebugResponse(text string) { e.Emit(DebugResponse(text)) }

// Stopped emits the cancelled-run terminal event.
func (e *Emitter) Stopped(done, total int) { e.Emit(Stopped(done, total)) }

// Finish emits the completed-run terminal event.
func (e *Emitter) Finish(done, total int) { e.Emit(Finish(done, total)) }

// Error emits the failed-run terminal event.
func (e *Emitter) Error(message string) { e.Emit(Error(message)) }

// Close closes the stream. Idempotent. The engine calls it after the
// terminal event, once no producer can emit anymore.
func (e *Emitter) Close() {
	e.closed.Do(func() { close(e.ch) })
}
