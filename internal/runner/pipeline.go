package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/pipebench/internal/backend"
	"github.com/torosent/pipebench/internal/completion"
	"github.com/torosent/pipebench/internal/metrics"
)

// Pipeline keeps up to Pipelining executions of one statement outstanding
// until Count executions have been issued.
//
// Each slot claims work with a single fetch-then-decrement of the remaining
// counter: a fetched value above zero issues an execution, exactly zero
// resolves the run successfully, below zero ends the slot. The first failed
// execution resolves the run with its error and ends that slot only.
type Pipeline struct {
	opt  Options
	stmt backend.Statement

	started   atomic.Bool
	remaining atomic.Int64
	issued    atomic.Int64
	slots     atomic.Int64
	coord     *completion.Coordinator
	drained   chan struct{}

	// Continuations run on whichever goroutine finds the queue idle, so an
	// adapter that completes inline cannot nest one slot step inside another.
	mu       sync.Mutex
	pending  []func()
	draining bool
}

// NewPipeline returns a Pipeline for opt.
func NewPipeline(opt Options) *Pipeline {
	opt.normalize()
	return &Pipeline{
		opt:     opt,
		coord:   completion.New(),
		drained: make(chan struct{}),
	}
}

// Start launches min(Count, Pipelining) slots against stmt and returns the
// run's coordinator without waiting. Calling Start again returns the same
// coordinator.
func (p *Pipeline) Start(ctx context.Context, stmt backend.Statement) *completion.Coordinator {
	if !p.started.CompareAndSwap(false, true) {
		return p.coord
	}
	p.stmt = stmt

	n := int64(p.opt.Count)
	p.remaining.Store(n)
	slots := min(n, int64(p.opt.Pipelining))
	if slots == 0 {
		p.coord.Succeed()
		close(p.drained)
		return p.coord
	}
	p.slots.Store(slots)

	go p.schedule(func() {
		for i := int64(0); i < slots; i++ {
			p.step(ctx)
		}
	})
	return p.coord
}

// Coordinator returns the run's completion signal.
func (p *Pipeline) Coordinator() *completion.Coordinator {
	return p.coord
}

// Drained is closed once every slot has ended. It can stay open after the
// coordinator resolves while executions are still outstanding.
func (p *Pipeline) Drained() <-chan struct{} {
	return p.drained
}

// Issued reports how many executions have been handed to the statement.
func (p *Pipeline) Issued() int64 {
	return p.issued.Load()
}

// Recorder returns the latency recorder of the run.
func (p *Pipeline) Recorder() *metrics.Recorder {
	return p.opt.Recorder
}

func (p *Pipeline) step(ctx context.Context) {
	fetched := p.remaining.Add(-1) + 1
	switch {
	case fetched == 0:
		p.coord.Succeed()
		p.endSlot()
		return
	case fetched < 0:
		p.endSlot()
		return
	}

	p.issued.Add(1)
	start := time.Now()
	p.stmt.Execute(ctx, func(out backend.Outcome) {
		elapsed := time.Since(start)
		p.schedule(func() {
			if out.Err != nil {
				p.opt.logFailure(out.Err)
				p.coord.Fail(out.Err)
				p.endSlot()
				return
			}
			p.opt.Recorder.Record(elapsed)
			p.step(ctx)
		})
	})
}

func (p *Pipeline) endSlot() {
	if p.slots.Add(-1) == 0 {
		close(p.drained)
	}
}

func (p *Pipeline) schedule(task func()) {
	p.mu.Lock()
	p.pending = append(p.pending, task)
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()
	p.drain()
}

// drain runs queued continuations until none are left, then flushes every
// execution they issued.
func (p *Pipeline) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.draining = false
			p.pending = nil
			p.mu.Unlock()
			p.stmt.Flush()
			return
		}
		task := p.pending[0]
		p.pending[0] = nil
		p.pending = p.pending[1:]
		p.mu.Unlock()
		task()
	}
}
