// Package completion provides a one-shot result cell resolved by whichever
// concurrent path reaches a terminal outcome first.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by Await when the coordinator is still pending
// after the wait bound elapsed.
var ErrTimeout = errors.New("completion: timed out waiting for result")

// State is the resolution state of a Coordinator.
type State int32

const (
	StatePending State = iota
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Coordinator holds exactly one of pending, success or failure(cause).
// The first call to Succeed or Fail wins; every later call is a no-op.
// The zero value is not usable, use New.
type Coordinator struct {
	state atomic.Int32
	once  sync.Once
	err   error
	done  chan struct{}
}

// New returns a pending coordinator.
func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Succeed resolves the coordinator with success. It reports whether this
// call performed the transition.
func (c *Coordinator) Succeed() bool {
	return c.resolve(StateSucceeded, nil)
}

// Fail resolves the coordinator with err. A nil err is replaced by a generic
// failure so a failed coordinator never reports a nil cause.
func (c *Coordinator) Fail(err error) bool {
	if err == nil {
		err = errors.New("completion: failed without cause")
	}
	return c.resolve(StateFailed, err)
}

func (c *Coordinator) resolve(state State, err error) bool {
	won := false
	c.once.Do(func() {
		c.err = err
		c.state.Store(int32(state))
		close(c.done)
		won = true
	})
	return won
}

// Done is closed once the coordinator resolves.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the current state and, for a failure, its cause.
func (c *Coordinator) Outcome() (State, error) {
	select {
	case <-c.done:
		return State(c.state.Load()), c.err
	default:
		return StatePending, nil
	}
}

// Await blocks until the coordinator resolves or timeout elapses. It returns
// nil on success, the failure cause on failure and an error wrapping
// ErrTimeout on expiry. A non-positive timeout waits indefinitely.
// Outstanding work is not cancelled on timeout.
func (c *Coordinator) Await(timeout time.Duration) error {
	if timeout <= 0 {
		<-c.done
		return c.result()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.done:
		return c.result()
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

// AwaitContext is Await bounded by ctx instead of a duration. Context expiry
// is reported as ErrTimeout wrapping the context error.
func (c *Coordinator) AwaitContext(ctx context.Context) error {
	select {
	case <-c.done:
		return c.result()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (c *Coordinator) result() error {
	if State(c.state.Load()) == StateFailed {
		return c.err
	}
	return nil
}
