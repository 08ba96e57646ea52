package runner_test

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/torosent/pipebench/internal/backend"
)

type completionMode int

const (
	// completeInline calls done from inside Execute, like the sync adapter.
	completeInline completionMode = iota
	// completeAsync calls done from another goroutine after Flush.
	completeAsync
	// completeManual holds every execution until the test completes it.
	completeManual
)

// fakeStatement is a controllable backend.Statement.
type fakeStatement struct {
	mode   completionMode
	failOn map[int]error // 1-based call index to failure

	mu             sync.Mutex
	calls          int
	outstanding    int
	maxOutstanding int
	completed      int
	flushes        int
	overlapped     bool // an execution was issued while another was outstanding
	queued         []func()
	held           []*heldExecution
	depths         []int
	issuedCh       chan struct{}
}

type heldExecution struct {
	index int
	stmt  *fakeStatement
	done  func(backend.Outcome)
}

func newFakeStatement(mode completionMode) *fakeStatement {
	return &fakeStatement{mode: mode, issuedCh: make(chan struct{}, 1024)}
}

func (f *fakeStatement) Execute(ctx context.Context, done func(backend.Outcome)) {
	f.mu.Lock()
	f.calls++
	index := f.calls
	if f.outstanding > 0 {
		f.overlapped = true
	}
	f.outstanding++
	if f.outstanding > f.maxOutstanding {
		f.maxOutstanding = f.outstanding
	}
	if f.mode == completeInline {
		pcs := make([]uintptr, 512)
		f.depths = append(f.depths, runtime.Callers(0, pcs))
	}
	err := f.failOn[index]
	f.mu.Unlock()

	select {
	case f.issuedCh <- struct{}{}:
	default:
	}

	switch f.mode {
	case completeInline:
		f.finish(done, err)
	case completeAsync:
		f.mu.Lock()
		f.queued = append(f.queued, func() { f.finish(done, err) })
		f.mu.Unlock()
	case completeManual:
		f.mu.Lock()
		f.held = append(f.held, &heldExecution{index: index, stmt: f, done: done})
		f.mu.Unlock()
	}
}

func (f *fakeStatement) Flush() {
	f.mu.Lock()
	f.flushes++
	batch := f.queued
	f.queued = nil
	f.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	go func() {
		for _, complete := range batch {
			complete()
		}
	}()
}

func (f *fakeStatement) finish(done func(backend.Outcome), err error) {
	f.mu.Lock()
	f.outstanding--
	f.completed++
	f.mu.Unlock()
	if err != nil {
		done(backend.Outcome{Err: err})
		return
	}
	done(backend.Outcome{Rows: 1})
}

// complete finishes a held execution.
func (h *heldExecution) complete(err error) {
	h.stmt.finish(h.done, err)
}

// takeHeld removes and returns the held executions in issue order.
func (f *fakeStatement) takeHeld() []*heldExecution {
	f.mu.Lock()
	defer f.mu.Unlock()
	held := f.held
	f.held = nil
	return held
}

func (f *fakeStatement) snapshot() (calls, maxOutstanding, completed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.maxOutstanding, f.completed
}

// waitForHeld polls until n executions are held.
func (f *fakeStatement) waitForHeld(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		got := len(f.held)
		f.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d held executions", n)
}
