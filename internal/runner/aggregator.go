package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/pipebench/internal/backend"
	"github.com/torosent/pipebench/internal/completion"
	"github.com/torosent/pipebench/internal/metrics"
)

// Aggregator collects the outcomes of a fixed number of independent tasks.
// Every failure is kept; none of them stops the remaining tasks.
type Aggregator struct {
	total     int64
	remaining atomic.Int64
	budget    atomic.Int64
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	failures []error
}

// NewAggregator returns an Aggregator that completes after total reports and
// grants total launch permits.
func NewAggregator(total int) *Aggregator {
	if total < 0 {
		total = 0
	}
	a := &Aggregator{total: int64(total), done: make(chan struct{})}
	a.remaining.Store(int64(total))
	a.budget.Store(int64(total))
	if total == 0 {
		a.closeOnce.Do(func() { close(a.done) })
	}
	return a
}

// Report records the outcome of one task. A nil err is a success.
// Failed reports beyond the total are still kept in the failure set; Done
// stays closed and Reported stays clamped at the total.
func (a *Aggregator) Report(err error) {
	if err != nil {
		a.mu.Lock()
		a.failures = append(a.failures, err)
		a.mu.Unlock()
	}
	if a.remaining.Add(-1) == 0 {
		a.closeOnce.Do(func() { close(a.done) })
	}
}

// ShouldLaunchMore consumes one launch permit. Once the permits are spent it
// returns false forever.
func (a *Aggregator) ShouldLaunchMore() bool {
	return a.budget.Add(-1)+1 > 0
}

// Done is closed once every task has reported.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Await blocks until every task has reported or timeout elapses. A
// non-positive timeout waits indefinitely. Failed tasks do not make Await
// fail; use Err or IsFailed.
func (a *Aggregator) Await(timeout time.Duration) error {
	if timeout <= 0 {
		<-a.done
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s (%d of %d tasks reported)", completion.ErrTimeout, timeout, a.Reported(), a.total)
	}
}

// Reported returns how many tasks have reported so far.
func (a *Aggregator) Reported() int64 {
	return min(a.total, a.total-a.remaining.Load())
}

// FailureCount returns the number of failures reported so far.
func (a *Aggregator) FailureCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.failures)
}

// IsFailed reports whether any task has failed so far.
func (a *Aggregator) IsFailed() bool {
	return a.FailureCount() > 0
}

// Failures returns a copy of the failures reported so far.
func (a *Aggregator) Failures() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.failures))
	copy(out, a.failures)
	return out
}

// Err summarizes the reported failures, or returns nil when there are none.
func (a *Aggregator) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.failures) == 0 {
		return nil
	}
	return &FailedTasksError{Failed: len(a.failures), Total: a.total, First: a.failures[0]}
}

// FailedTasksError reports that at least one task of a parallel run failed.
type FailedTasksError struct {
	Failed int
	Total  int64
	First  error
}

func (e *FailedTasksError) Error() string {
	return fmt.Sprintf("%d of %d tasks failed, first: %v", e.Failed, e.Total, e.First)
}

func (e *FailedTasksError) Unwrap() error { return e.First }

// Parallel issues Count independent executions of one statement at once and
// reports each outcome into an Aggregator.
type Parallel struct {
	opt    Options
	agg    *Aggregator
	issued atomic.Int64
}

// NewParallel returns a Parallel run for opt.
func NewParallel(opt Options) *Parallel {
	opt.normalize()
	return &Parallel{opt: opt, agg: NewAggregator(opt.Count)}
}

// Run starts the producer loop on its own goroutine and returns the
// aggregator. Executions are flushed every Pipelining launches.
func (p *Parallel) Run(ctx context.Context, stmt backend.Statement) *Aggregator {
	go func() {
		batch := 0
		for p.agg.ShouldLaunchMore() {
			p.issued.Add(1)
			start := time.Now()
			stmt.Execute(ctx, func(out backend.Outcome) {
				if out.Err != nil {
					p.opt.logFailure(out.Err)
				} else {
					p.opt.Recorder.Record(time.Since(start))
				}
				p.agg.Report(out.Err)
			})
			if batch++; batch == p.opt.Pipelining {
				stmt.Flush()
				batch = 0
			}
		}
		stmt.Flush()
	}()
	return p.agg
}

// Aggregator returns the run's aggregator.
func (p *Parallel) Aggregator() *Aggregator {
	return p.agg
}

// Issued reports how many executions have been handed to the statement.
func (p *Parallel) Issued() int64 {
	return p.issued.Load()
}

// Recorder returns the latency recorder of the run.
func (p *Parallel) Recorder() *metrics.Recorder {
	return p.opt.Recorder
}
