package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Arachne/pkg/events"
)

func TestEventConstructors(t *testing.T) {
	ev := events.Progress(5, 20)
	if ev.Kind != events.KindProgress {
		t.Errorf("Expected kind progress, got %s", ev.Kind)
	}
	if ev.Done != 5 || ev.Total != 20 {
		t.Errorf("Expected 5/20, got %d/%d", ev.Done, ev.Total)
	}
	if ev.At.IsZero() {
		t.Error("Expected timestamp to be set")
	}

	if !events.Finish(1, 1).Terminal() {
		t.Error("Expected finish to be terminal")
	}
	if !events.Stopped(0, 1).Terminal() {
		t.Error("Expected stopped to be terminal")
	}
	if !events.Error("boom").Terminal() {
		t.Error("Expected error to be terminal")
	}
	if events.Info("hello").Terminal() {
		t.Error("Expected info not to be terminal")
	}
	if events.Progress(1, 2).Terminal() {
		t.Error("Expected progress not to be terminal")
	}
}

func TestEventString(t *testing.T) {
	if got := events.Progress(3, 9).String(); got != "progress 3/9" {
		t.Errorf("Expected 'progress 3/9', got %q", got)
	}
	if got := events.Error("boom").String(); got != "error boom" {
		t.Errorf("Expected 'error boom', got %q", got)
	}
}

func TestEmitterDeliversInOrder(t *testing.T) {
	em := events.NewEmitter(context.Background(), 8, false)

	em.Info("starting")
	em.Progress(1, 2)
	em.Finish(2, 2)
	em.Close()

	var kinds []events.Kind
	for ev := range em.Events() {
		kinds = append(kinds, ev.Kind)
	}

	want := []events.Kind{events.KindInfo, events.KindProgress, events.KindFinish}
	if len(kinds) != len(want) {
		t.Fatalf("Expected %d events, got %d: %v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Expected event %d to be %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestEmitterDropsDebugWhenDisabled(t *testing.T) {
	em := events.NewEmitter(context.Background(), 8, false)
	em.DebugPrompt("prompt text")
	em.DebugResponse("reply text")
	em.Finish(0, 0)
	em.Close()

	count := 0
	for ev := range em.Events() {
		if ev.Kind == events.KindDebugPrompt || ev.Kind == events.KindDebugResponse {
			t.Errorf("Expected no debug events, got %s", ev.Kind)
		}
		count++
	}
	if count != 1 {
		t.Errorf("Expected only the terminal event, got %d events", count)
	}
}

func TestEmitterDeliversDebugWhenEnabled(t *testing.T) {
	em := events.NewEmitter(context.Background(), 8, true)
	em.DebugPrompt("prompt text")
	em.Finish(0, 0)
	em.Close()

	var kinds []events.Kind
	for ev := range em.Events() {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 2 || kinds[0] != events.KindDebugPrompt {
		t.Errorf("Expected debug then finish, got %v", kinds)
	}
}

func TestEmitterTerminalLatch(t *testing.T) {
	em := events.NewEmitter(context.Background(), 16, false)

	em.Finish(3, 3)
	// Everything after the terminal event must be dropped.
	em.Stopped(1, 3)
	em.Error("late failure")
	em.Progress(9, 9)
	em.Close()

	terminals := 0
	total := 0
	for ev := range em.Events() {
		total++
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("Expected exactly one terminal event, got %d", terminals)
	}
	if total != 1 {
		t.Errorf("Expected no events after the terminal one, got %d", total)
	}
}

func TestEmitterTerminalLatchConcurrent(t *testing.T) {
	em := events.NewEmitter(context.Background(), 64, false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			em.Finish(1, 1)
			em.Stopped(0, 1)
		}()
	}
	wg.Wait()
	em.Close()

	terminals := 0
	for ev := range em.Events() {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("Expected exactly one terminal event under contention, got %d", terminals)
	}
}

func TestEmitterCloseIdempotent(t *testing.T) {
	em := events.NewEmitter(context.Background(), 1, false)
	em.Close()
	em.Close()

	if _, ok := <-em.Events(); ok {
		t.Error("Expected channel to be closed")
	}
}

func TestEmitterCancelledContextDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	em := events.NewEmitter(ctx, 1, false)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody is reading; buffer is 1. These must not block forever.
		for i := 0; i < 10; i++ {
			em.Progress(i, 10)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected emits on a cancelled context to return promptly")
	}
}

// fakeConn records published messages in memory.
type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	flushed  int
	fail     bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection lost")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

func TestPublisherValidation(t *testing.T) {
	if _, err := events.NewPublisher(nil, "s", zap.NewNop()); err == nil {
		t.Error("Expected error for nil connection")
	}
	if _, err := events.NewPublisher(&fakeConn{}, "", zap.NewNop()); err == nil {
		t.Error("Expected error for empty subject")
	}
}

func TestPublisherPublish(t *testing.T) {
	conn := &fakeConn{}
	pub, err := events.NewPublisher(conn, "arachne.run.test", zap.NewNop())
	if err != nil {
		t.Fatalf("Expected publisher to be created: %v", err)
	}

	if err := pub.Publish(events.Progress(2, 4)); err != nil {
		t.Fatalf("Expected publish to succeed: %v", err)
	}

	if len(conn.payloads) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(conn.payloads))
	}
	if conn.subjects[0] != "arachne.run.test" {
		t.Errorf("Expected subject 'arachne.run.test', got %q", conn.subjects[0])
	}

	var ev events.Event
	if err := json.Unmarshal(conn.payloads[0], &ev); err != nil {
		t.Fatalf("Expected valid JSON payload: %v", err)
	}
	if ev.Kind != events.KindProgress || ev.Done != 2 || ev.Total != 4 {
		t.Errorf("Expected progress 2/4, got %s %d/%d", ev.Kind, ev.Done, ev.Total)
	}
}

func TestPublisherForwardDrainsAndFlushes(t *testing.T) {
	conn := &fakeConn{}
	pub, err := events.NewPublisher(conn, "arachne.run.test", zap.NewNop())
	if err != nil {
		t.Fatalf("Expected publisher to be created: %v", err)
	}

	ch := make(chan events.Event, 4)
	ch <- events.Info("starting")
	ch <- events.Progress(1, 1)
	ch <- events.Finish(1, 1)
	close(ch)

	if err := pub.Forward(context.Background(), ch); err != nil {
		t.Fatalf("Expected forward to succeed: %v", err)
	}
	if len(conn.payloads) != 3 {
		t.Errorf("Expected 3 forwarded events, got %d", len(conn.payloads))
	}
	if conn.flushed == 0 {
		t.Error("Expected connection to be flushed")
	}
}

func TestPublisherForwardSkipsFailures(t *testing.T) {
	conn := &fakeConn{fail: true}
	pub, err := events.NewPublisher(conn, "arachne.run.test", zap.NewNop())
	if err != nil {
		t.Fatalf("Expected publisher to be created: %v", err)
	}

	ch := make(chan events.Event, 2)
	ch <- events.Info("starting")
	ch <- events.Finish(0, 0)
	close(ch)

	// Publish failures are logged, not returned.
	if err := pub.Forward(context.Background(), ch); err != nil {
		t.Fatalf("Expected forward to swallow publish failures: %v", err)
	}
}
