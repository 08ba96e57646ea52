package runner_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/torosent/pipebench/internal/completion"
	"github.com/torosent/pipebench/internal/metrics"
	"github.com/torosent/pipebench/internal/runner"
)

func newRecorder() *metrics.Recorder {
	return metrics.NewRecorder(metrics.DefaultRecorderConfig())
}

func waitDrained(t *testing.T, p *runner.Pipeline) {
	t.Helper()
	select {
	case <-p.Drained():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline slots did not drain")
	}
}

func TestPipelineIssuesExactlyCount(t *testing.T) {
	cases := []struct {
		count, depth int
		mode         completionMode
	}{
		{1, 1, completeInline},
		{100, 1, completeInline},
		{100, 7, completeInline},
		{100, 100, completeInline},
		{250, 16, completeAsync},
		{250, 1, completeAsync},
		{3, 8, completeAsync},
		{3, 8, completeInline},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("n=%d/p=%d/mode=%d", tc.count, tc.depth, tc.mode), func(t *testing.T) {
			stmt := newFakeStatement(tc.mode)
			rec := newRecorder()
			p := runner.NewPipeline(runner.Options{Count: tc.count, Pipelining: tc.depth, Recorder: rec})

			if err := p.Start(context.Background(), stmt).Await(5 * time.Second); err != nil {
				t.Fatalf("Await: %v", err)
			}
			waitDrained(t, p)

			calls, maxOutstanding, _ := stmt.snapshot()
			if calls != tc.count {
				t.Fatalf("expected %d executions, got %d", tc.count, calls)
			}
			if p.Issued() != int64(tc.count) {
				t.Fatalf("Issued() = %d, want %d", p.Issued(), tc.count)
			}
			if rec.Count() != int64(tc.count) {
				t.Fatalf("expected %d samples, got %d", tc.count, rec.Count())
			}
			if maxOutstanding > min(tc.count, tc.depth) {
				t.Fatalf("max outstanding %d exceeds depth %d", maxOutstanding, tc.depth)
			}
		})
	}
}

// P=1 issues strictly one execution at a time.
func TestPipelineDepthOneIsSequential(t *testing.T) {
	stmt := newFakeStatement(completeAsync)
	p := runner.NewPipeline(runner.Options{Count: 5000, Pipelining: 1})

	if err := p.Start(context.Background(), stmt).Await(10 * time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}
	waitDrained(t, p)

	calls, maxOutstanding, _ := stmt.snapshot()
	if calls != 5000 {
		t.Fatalf("expected 5000 executions, got %d", calls)
	}
	if maxOutstanding != 1 || stmt.overlapped {
		t.Fatalf("executions overlapped (max outstanding %d)", maxOutstanding)
	}
}

// N=P=10 launches every slot before any completion and never an 11th.
func TestPipelineFullDepthLaunchesAllSlots(t *testing.T) {
	stmt := newFakeStatement(completeManual)
	p := runner.NewPipeline(runner.Options{Count: 10, Pipelining: 10})
	coord := p.Start(context.Background(), stmt)

	stmt.waitForHeld(t, 10)
	held := stmt.takeHeld()
	if len(held) != 10 {
		t.Fatalf("expected 10 outstanding executions, got %d", len(held))
	}
	if _, _, completed := stmt.snapshot(); completed != 0 {
		t.Fatalf("expected no completions yet, got %d", completed)
	}

	for _, h := range held {
		h.complete(nil)
	}
	if err := coord.Await(time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}
	waitDrained(t, p)

	if calls, _, _ := stmt.snapshot(); calls != 10 {
		t.Fatalf("expected 10 executions, got %d", calls)
	}
	if rest := stmt.takeHeld(); len(rest) != 0 {
		t.Fatalf("unexpected extra executions: %d", len(rest))
	}
}

func TestPipelineFirstCompletedFailureWins(t *testing.T) {
	stmt := newFakeStatement(completeManual)
	p := runner.NewPipeline(runner.Options{Count: 3, Pipelining: 3})
	coord := p.Start(context.Background(), stmt)

	stmt.waitForHeld(t, 3)
	held := stmt.takeHeld()

	errThird := errors.New("third failed")
	errFirst := errors.New("first failed")
	held[2].complete(errThird)
	held[0].complete(errFirst)
	held[1].complete(nil)

	err := coord.Await(time.Second)
	if !errors.Is(err, errThird) {
		t.Fatalf("expected failure of the execution completed first, got %v", err)
	}
	waitDrained(t, p)
}

func TestPipelineFailureDoesNotStopSiblings(t *testing.T) {
	boom := errors.New("boom")
	stmt := newFakeStatement(completeInline)
	stmt.failOn = map[int]error{1: boom}
	rec := newRecorder()
	p := runner.NewPipeline(runner.Options{Count: 10, Pipelining: 2, Recorder: rec})

	if err := p.Start(context.Background(), stmt).Await(time.Second); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	waitDrained(t, p)

	if calls, _, _ := stmt.snapshot(); calls != 10 {
		t.Fatalf("expected the surviving slot to finish all work, got %d calls", calls)
	}
	if rec.Count() != 9 {
		t.Fatalf("expected 9 recorded successes, got %d", rec.Count())
	}
}

func TestPipelineZeroCountSucceedsImmediately(t *testing.T) {
	stmt := newFakeStatement(completeInline)
	p := runner.NewPipeline(runner.Options{Count: 0, Pipelining: 4})
	coord := p.Start(context.Background(), stmt)

	state, err := coord.Outcome()
	if state != completion.StateSucceeded || err != nil {
		t.Fatalf("expected immediate success, got %s %v", state, err)
	}
	select {
	case <-p.Drained():
	default:
		t.Fatal("expected Drained to be closed")
	}
	if calls, _, _ := stmt.snapshot(); calls != 0 {
		t.Fatalf("expected no executions, got %d", calls)
	}
}

func TestPipelineInlineCompletionKeepsStackFlat(t *testing.T) {
	stmt := newFakeStatement(completeInline)
	p := runner.NewPipeline(runner.Options{Count: 5000, Pipelining: 1})

	if err := p.Start(context.Background(), stmt).Await(10 * time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}
	waitDrained(t, p)

	stmt.mu.Lock()
	depths := stmt.depths
	stmt.mu.Unlock()
	if len(depths) != 5000 {
		t.Fatalf("expected 5000 samples, got %d", len(depths))
	}
	lo, hi := depths[0], depths[0]
	for _, d := range depths {
		lo = min(lo, d)
		hi = max(hi, d)
	}
	if hi-lo > 2 {
		t.Fatalf("call depth grew from %d to %d", lo, hi)
	}
}

func TestPipelineTimeoutLeavesWorkOutstanding(t *testing.T) {
	stmt := newFakeStatement(completeManual)
	p := runner.NewPipeline(runner.Options{Count: 2, Pipelining: 1})
	coord := p.Start(context.Background(), stmt)

	if err := coord.Await(20 * time.Millisecond); !errors.Is(err, completion.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// The caller tears the work down; the slot then runs to its end.
	stmt.waitForHeld(t, 1)
	stmt.takeHeld()[0].complete(errors.New("closed"))
	waitDrained(t, p)
}

func TestPipelineStartTwiceReturnsSameCoordinator(t *testing.T) {
	stmt := newFakeStatement(completeInline)
	p := runner.NewPipeline(runner.Options{Count: 5})

	first := p.Start(context.Background(), stmt)
	second := p.Start(context.Background(), stmt)
	if first != second {
		t.Fatal("expected the same coordinator")
	}
	if err := first.Await(time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}
	waitDrained(t, p)
	if calls, _, _ := stmt.snapshot(); calls != 5 {
		t.Fatalf("expected 5 executions, got %d", calls)
	}
}

type recordingLogger struct {
	errs chan error
}

func (l *recordingLogger) LogFailure(err error) { l.errs <- err }

func TestPipelineLogsFailures(t *testing.T) {
	boom := errors.New("boom")
	stmt := newFakeStatement(completeInline)
	stmt.failOn = map[int]error{2: boom}
	logger := &recordingLogger{errs: make(chan error, 4)}
	p := runner.NewPipeline(runner.Options{Count: 3, Logger: logger})

	_ = p.Start(context.Background(), stmt).Await(time.Second)
	waitDrained(t, p)

	select {
	case err := <-logger.errs:
		if !errors.Is(err, boom) {
			t.Fatalf("unexpected logged error %v", err)
		}
	default:
		t.Fatal("expected a logged failure")
	}
}
