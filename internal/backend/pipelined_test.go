package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func liveURI(t *testing.T) string {
	t.Helper()
	uri := os.Getenv("PIPEBENCH_TEST_URI")
	if uri == "" {
		t.Skip("PIPEBENCH_TEST_URI not set")
	}
	return uri
}

func preparePipelined(t *testing.T, ctx context.Context, uri, sql string) (Conn, Statement) {
	t.Helper()
	conn, err := PipelinedConnector{}.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	stmt, err := conn.Prepare(ctx, sql)
	if err != nil {
		conn.Close(context.Background())
		t.Fatalf("prepare: %v", err)
	}
	return conn, stmt
}

// outcomeLog records every done invocation by issue index.
type outcomeLog struct {
	mu       sync.Mutex
	outcomes map[int][]Outcome
	order    []int
	all      chan struct{}
	want     int
}

func newOutcomeLog(want int) *outcomeLog {
	return &outcomeLog{outcomes: make(map[int][]Outcome), all: make(chan struct{}), want: want}
}

func (l *outcomeLog) done(i int) func(Outcome) {
	return func(out Outcome) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.outcomes[i] = append(l.outcomes[i], out)
		l.order = append(l.order, i)
		if len(l.order) == l.want {
			close(l.all)
		}
	}
}

func (l *outcomeLog) wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-l.all:
	case <-time.After(timeout):
		l.mu.Lock()
		defer l.mu.Unlock()
		t.Fatalf("only %d of %d executions completed", len(l.order), l.want)
	}
}

func TestPipelinedIsolatesFailingExecutions(t *testing.T) {
	uri := liveURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	setup, err := pgx.Connect(ctx, uri)
	if err != nil {
		t.Fatalf("setup connect: %v", err)
	}
	defer setup.Close(context.Background())
	seq := fmt.Sprintf("pipebench_seq_%d", time.Now().UnixNano())
	if _, err := setup.Exec(ctx, "CREATE SEQUENCE "+seq); err != nil {
		t.Fatalf("create sequence: %v", err)
	}
	defer setup.Exec(context.Background(), "DROP SEQUENCE IF EXISTS "+seq)

	// Every third execution divides by zero.
	conn, stmt := preparePipelined(t, ctx, uri, fmt.Sprintf("SELECT 1 / (nextval('%s') %% 3)", seq))
	defer conn.Close(context.Background())

	const n = 30
	log := newOutcomeLog(n)
	for i := 1; i <= n; i++ {
		stmt.Execute(ctx, log.done(i))
		if i%7 == 0 {
			stmt.Flush()
		}
	}
	stmt.Flush()
	log.wait(t, 20*time.Second)

	for i := 1; i <= n; i++ {
		if log.order[i-1] != i {
			t.Fatalf("completion order %v is not issue order", log.order)
		}
		outs := log.outcomes[i]
		if len(outs) != 1 {
			t.Fatalf("execution %d completed %d times", i, len(outs))
		}
		out := outs[0]
		if i%3 == 0 {
			var pgErr *pgconn.PgError
			if !errors.As(out.Err, &pgErr) || pgErr.Code != "22012" {
				t.Errorf("execution %d: expected division_by_zero, got %v", i, out.Err)
			}
			continue
		}
		if out.Err != nil || out.Rows != 1 {
			t.Errorf("execution %d: expected one row, got rows=%d err=%v", i, out.Rows, out.Err)
		}
	}

	snap := conn.Metrics().Snapshot()
	if snap.Completed != n || snap.Errors != n/3 {
		t.Fatalf("unexpected metrics %+v", snap)
	}
}

func TestPipelinedCloseFailsOutstanding(t *testing.T) {
	uri := liveURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, stmt := preparePipelined(t, ctx, uri, "SELECT pg_sleep(0.005)")

	const n = 200
	log := newOutcomeLog(n)
	first := make(chan struct{})
	var once sync.Once
	for i := 1; i <= n; i++ {
		done := log.done(i)
		stmt.Execute(ctx, func(out Outcome) {
			done(out)
			once.Do(func() { close(first) })
		})
	}
	stmt.Flush()

	select {
	case <-first:
	case <-ctx.Done():
		t.Fatal("no execution completed")
	}
	if err := conn.Close(ctx); err != nil {
		t.Logf("close: %v", err)
	}
	log.wait(t, 5*time.Second)

	closed := 0
	for i := 1; i <= n; i++ {
		outs := log.outcomes[i]
		if len(outs) != 1 {
			t.Fatalf("execution %d completed %d times", i, len(outs))
		}
		if errors.Is(outs[0].Err, ErrClosed) {
			closed++
		} else if outs[0].Err != nil {
			t.Errorf("execution %d: unexpected error %v", i, outs[0].Err)
		}
	}
	if closed == 0 {
		t.Fatal("expected outstanding executions to fail with ErrClosed")
	}

	// Executions issued after Close fail immediately.
	late := make(chan Outcome, 1)
	stmt.Execute(context.Background(), func(out Outcome) { late <- out })
	if out := <-late; !errors.Is(out.Err, ErrClosed) {
		t.Fatalf("late execution: expected ErrClosed, got %v", out.Err)
	}
}

func TestPipelinedCloseWithExpiredContext(t *testing.T) {
	uri := liveURI(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, stmt := preparePipelined(t, ctx, uri, "SELECT pg_sleep(3)")

	const n = 5
	log := newOutcomeLog(n)
	for i := 1; i <= n; i++ {
		stmt.Execute(ctx, log.done(i))
	}
	stmt.Flush()
	time.Sleep(100 * time.Millisecond)

	expired, cancelClose := context.WithCancel(context.Background())
	cancelClose()
	start := time.Now()
	_ = conn.Close(expired)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("Close took %s, expected the blocked read to be aborted", elapsed)
	}
	log.wait(t, 5*time.Second)

	for i := 1; i <= n; i++ {
		outs := log.outcomes[i]
		if len(outs) != 1 {
			t.Fatalf("execution %d completed %d times", i, len(outs))
		}
		if outs[0].Err == nil {
			t.Errorf("execution %d should not succeed after a forced close", i)
		}
	}
}
