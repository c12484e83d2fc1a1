package hub

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

type signalListener struct {
	mu        sync.Mutex
	readable  int
	writable  int
	notify    chan struct{}
}

func (l *signalListener) OnReadable() {
	l.mu.Lock()
	l.readable++
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *signalListener) OnWritable() {
	l.mu.Lock()
	l.writable++
	l.mu.Unlock()
}

func (l *signalListener) readableCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readable
}

func TestHub_DispatchesReadReadiness(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	pool := NewPool(context.Background(), 2)
	h, err := Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	listener := &signalListener{notify: make(chan struct{}, 1)}
	if _, err := h.Register(int(r.Fd()), InterestRead, listener); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w.Write([]byte("x"))

	select {
	case <-listener.notify:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for read readiness dispatch")
	}

	if listener.readableCount() == 0 {
		t.Fatalf("expected at least one OnReadable call")
	}
}

func TestHub_DeregisterStopsDispatch(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	pool := NewPool(context.Background(), 2)
	h, err := Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	listener := &signalListener{notify: make(chan struct{}, 1)}
	handle, err := h.Register(int(r.Fd()), InterestRead, listener)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Deregister(handle); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	w.Write([]byte("x"))
	select {
	case <-listener.notify:
		t.Fatalf("listener should not have been notified after deregistration")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHub_ExecuteRunsOnPool(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	h, err := Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	done := make(chan struct{})
	if err := h.Execute(func() { close(done) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Execute task never ran")
	}
}

func TestHub_ScheduleRunsAfterDelay(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	h, err := Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	done := make(chan struct{})
	h.Schedule(func() { close(done) }, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduled task never ran")
	}
}

type concurrencyListener struct {
	mu      sync.Mutex
	current int
	maxSeen int
	calls   int
	release chan struct{}
}

func (l *concurrencyListener) OnReadable() {
	l.mu.Lock()
	l.current++
	if l.current > l.maxSeen {
		l.maxSeen = l.current
	}
	l.calls++
	l.mu.Unlock()

	<-l.release

	l.mu.Lock()
	l.current--
	l.mu.Unlock()
}

func (l *concurrencyListener) OnWritable() {}

// A level-triggered fd that nothing ever reads from stays readable
// across every EpollWait poll. Without per-fd in-flight suppression,
// the same fd would be resubmitted to a second worker before the
// first call drains it, running OnReadable concurrently for one fd.
func TestHub_LevelTriggeredReadinessDoesNotOverlapPerFD(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	pool := NewPool(context.Background(), 4)
	h, err := Create(context.Background(), pool)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer h.Close()

	listener := &concurrencyListener{release: make(chan struct{})}
	if _, err := h.Register(int(r.Fd()), InterestRead, listener); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w.Write([]byte("x"))

	// Give the selector loop several immediate-return polls on the
	// still-readable fd while the one in-flight call sits blocked.
	time.Sleep(300 * time.Millisecond)

	listener.mu.Lock()
	calls := listener.calls
	maxSeen := listener.maxSeen
	listener.mu.Unlock()

	close(listener.release)

	if calls == 0 {
		t.Fatalf("expected at least one OnReadable call")
	}
	if maxSeen > 1 {
		t.Fatalf("expected at most one in-flight OnReadable per fd, saw %d", maxSeen)
	}
}
