package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/torosent/pipebench/internal/clientmetrics"
)

const preparedStatementName = "pipebench"

// ErrClosed is reported for executions issued on, or outstanding when, a
// connection is closed.
var ErrClosed = errors.New("backend: connection closed")

// PipelinedConnector connects with pgx and runs every execution through the
// PostgreSQL extended-protocol pipeline of a single connection.
type PipelinedConnector struct{}

// Connect opens one pgx connection to uri.
func (PipelinedConnector) Connect(ctx context.Context, uri string) (Conn, error) {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return nil, &ConnectError{Client: ClientPipelined, Err: err}
	}
	m := clientmetrics.New()
	m.MarkConnected()
	return &pipelinedConn{conn: conn, metrics: m}, nil
}

type pipelinedConn struct {
	conn    *pgx.Conn
	metrics *clientmetrics.ClientMetrics

	mu   sync.Mutex
	stmt *pipelinedStatement
}

// Prepare prepares sql and switches the connection to pipeline mode. Only one
// statement can be prepared per connection since the pipeline owns it from
// then on.
func (c *pipelinedConn) Prepare(ctx context.Context, sql string) (Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stmt != nil {
		return nil, &PrepareError{SQL: sql, Err: errors.New("connection is already in pipeline mode")}
	}
	if _, err := c.conn.Prepare(ctx, preparedStatementName, sql); err != nil {
		return nil, &PrepareError{SQL: sql, Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s := &pipelinedStatement{
		pipeline: c.conn.PgConn().StartPipeline(loopCtx),
		name:     preparedStatementName,
		metrics:  c.metrics,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		cancel:   cancel,
	}
	go s.loop()
	c.stmt = s
	return s, nil
}

func (c *pipelinedConn) Metrics() *clientmetrics.ClientMetrics {
	return c.metrics
}

// Close stops the pipeline loop and closes the connection. Executions still
// outstanding complete with ErrClosed. If ctx expires before the loop has
// drained, the pipeline context is cancelled to abort the blocked read.
func (c *pipelinedConn) Close(ctx context.Context) error {
	c.mu.Lock()
	s := c.stmt
	c.mu.Unlock()

	var errs []error
	if s != nil {
		if err := s.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close pipeline: %w", err))
		}
	}
	c.metrics.Reset()
	if err := c.conn.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

// pipelinedStatement owns the pgconn pipeline. Every read and write on it
// happens on the loop goroutine; Execute and Flush only touch the queue.
type pipelinedStatement struct {
	pipeline *pgconn.Pipeline
	name     string
	metrics  *clientmetrics.ClientMetrics

	mu       sync.Mutex
	queued   []func(Outcome)
	closed   bool
	closeErr error

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
	cancel   context.CancelFunc
}

func (s *pipelinedStatement) Execute(ctx context.Context, done func(Outcome)) {
	if err := ctx.Err(); err != nil {
		done(Outcome{Err: err})
		return
	}
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		done(Outcome{Err: err})
		return
	}
	s.queued = append(s.queued, done)
	s.mu.Unlock()
}

func (s *pipelinedStatement) Flush() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *pipelinedStatement) takeQueued() []func(Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queued
	s.queued = nil
	return batch
}

// shutdown marks the statement closed and returns whatever is still queued.
func (s *pipelinedStatement) shutdown(err error) []func(Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.closeErr = err
	}
	batch := s.queued
	s.queued = nil
	return batch
}

func (s *pipelinedStatement) loop() {
	defer close(s.stopped)

	var inflight []func(Outcome)
	abort := func(err error) {
		for _, done := range append(inflight, s.shutdown(err)...) {
			s.metrics.IncrementCompleted(0, 0, true)
			done(Outcome{Err: err})
		}
	}

	for {
		if len(inflight) == 0 {
			select {
			case <-s.wake:
			case <-s.stop:
				abort(ErrClosed)
				return
			}
		} else {
			select {
			case <-s.stop:
				abort(ErrClosed)
				return
			default:
			}
		}

		for _, done := range s.takeQueued() {
			s.pipeline.SendQueryPrepared(s.name, nil, nil, nil)
			// One sync point per execution isolates failures to the
			// execution that caused them.
			if err := s.pipeline.Sync(); err != nil {
				inflight = append(inflight, done)
				abort(fmt.Errorf("pipeline write: %w", err))
				return
			}
			s.metrics.IncrementIssued()
			inflight = append(inflight, done)
		}

		if len(inflight) == 0 {
			continue
		}

		out, bytes, err := s.readOne()
		if err != nil {
			abort(fmt.Errorf("pipeline read: %w", err))
			return
		}
		done := inflight[0]
		inflight = inflight[1:]
		s.metrics.IncrementCompleted(out.Rows, bytes, out.Err != nil)
		done(out)
	}
}

// readOne consumes the results of the oldest outstanding execution up to and
// including its sync point. Server errors become the execution's outcome;
// any other error means the connection is unusable.
func (s *pipelinedStatement) readOne() (Outcome, int64, error) {
	var out Outcome
	var bytes int64
	for {
		res, err := s.pipeline.GetResults()
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				out.Err = err
				continue
			}
			return out, bytes, err
		}
		switch r := res.(type) {
		case *pgconn.ResultReader:
			for r.NextRow() {
				out.Rows++
				for _, v := range r.Values() {
					bytes += int64(len(v))
				}
			}
			if _, err := r.Close(); err != nil {
				var pgErr *pgconn.PgError
				if !errors.As(err, &pgErr) {
					return out, bytes, err
				}
				if out.Err == nil {
					out.Err = err
				}
			}
		case *pgconn.PipelineSync:
			return out, bytes, nil
		case nil:
			return out, bytes, errors.New("no results pending")
		}
	}
}

func (s *pipelinedStatement) close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.stopped:
	case <-ctx.Done():
		s.cancel()
		<-s.stopped
	}
	defer s.cancel()
	return s.pipeline.Close()
}
