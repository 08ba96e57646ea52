package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/torosent/pipebench/internal/clientmetrics"
)

// SyncConnector connects through database/sql with lib/pq. Every execution
// blocks the caller, so runs through this adapter are sequential whatever
// the pipelining depth.
type SyncConnector struct{}

// Connect opens a single-connection sqlx handle to uri and pings it.
func (SyncConnector) Connect(ctx context.Context, uri string) (Conn, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", uri)
	if err != nil {
		return nil, &ConnectError{Client: ClientSync, Err: err}
	}
	// Prepared statements are bound to one server session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	m := clientmetrics.New()
	m.MarkConnected()
	return &syncConn{db: db, metrics: m}, nil
}

type syncConn struct {
	db      *sqlx.DB
	metrics *clientmetrics.ClientMetrics

	mu    sync.Mutex
	stmts []*sqlx.Stmt
}

func (c *syncConn) Prepare(ctx context.Context, sql string) (Statement, error) {
	stmt, err := c.db.PreparexContext(ctx, sql)
	if err != nil {
		return nil, &PrepareError{SQL: sql, Err: err}
	}
	c.mu.Lock()
	c.stmts = append(c.stmts, stmt)
	c.mu.Unlock()
	return &syncStatement{stmt: stmt, metrics: c.metrics}, nil
}

func (c *syncConn) Metrics() *clientmetrics.ClientMetrics {
	return c.metrics
}

func (c *syncConn) Close(ctx context.Context) error {
	c.mu.Lock()
	stmts := c.stmts
	c.stmts = nil
	c.mu.Unlock()

	var errs []error
	for _, stmt := range stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statement: %w", err))
		}
	}
	c.metrics.Reset()
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	return errors.Join(errs...)
}

type syncStatement struct {
	stmt    *sqlx.Stmt
	metrics *clientmetrics.ClientMetrics
	mu      sync.Mutex
}

// Execute runs the statement to completion, consuming every column of every
// row, then calls done on the calling goroutine.
func (s *syncStatement) Execute(ctx context.Context, done func(Outcome)) {
	s.mu.Lock()
	out, bytes := s.executeOnce(ctx)
	s.mu.Unlock()

	s.metrics.IncrementCompleted(out.Rows, bytes, out.Err != nil)
	done(out)
}

func (s *syncStatement) Flush() {}

func (s *syncStatement) executeOnce(ctx context.Context) (Outcome, int64) {
	s.metrics.IncrementIssued()

	rows, err := s.stmt.QueryxContext(ctx)
	if err != nil {
		return Outcome{Err: err}, 0
	}
	defer rows.Close()

	var out Outcome
	var bytes int64
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			out.Err = err
			return out, bytes
		}
		out.Rows++
		bytes += valuesSize(values)
	}
	if err := rows.Err(); err != nil {
		out.Err = err
	}
	return out, bytes
}

func valuesSize(values []interface{}) int64 {
	var n int64
	for _, v := range values {
		switch val := v.(type) {
		case []byte:
			n += int64(len(val))
		case string:
			n += int64(len(val))
		case nil:
		default:
			n += int64(len(fmt.Sprint(val)))
		}
	}
	return n
}
