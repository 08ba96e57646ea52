package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/torosent/pipebench/internal/clientmetrics"
)

// Outcome is the result of one execution of a prepared statement.
type Outcome struct {
	Rows int64
	Err  error
}

// Statement is a statement prepared once on a single connection.
type Statement interface {
	// Execute issues one execution. done is invoked exactly once when the
	// execution completes, either inline (synchronous adapters) or from the
	// adapter's own goroutine.
	Execute(ctx context.Context, done func(Outcome))
	// Flush writes every execution queued since the previous Flush.
	// Synchronous adapters have nothing to flush.
	Flush()
}

// Conn is one backend connection.
type Conn interface {
	Prepare(ctx context.Context, sql string) (Statement, error)
	Metrics() *clientmetrics.ClientMetrics
	Close(ctx context.Context) error
}

// Connector opens connections for one adapter variant.
type Connector interface {
	Connect(ctx context.Context, uri string) (Conn, error)
}

// Client selects a Connector variant.
type Client string

const (
	// ClientPipelined overlaps up to the pipelining depth on one connection.
	ClientPipelined Client = "pipelined"
	// ClientSync blocks on every execution, serializing regardless of depth.
	ClientSync Client = "sync"
)

// ParseClient maps a --client value to a Client. The names of the original
// benchmark ("reactive", "jdbc") are accepted as aliases.
func ParseClient(name string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "pipelined", "pipeline", "reactive", "async":
		return ClientPipelined, nil
	case "sync", "jdbc", "blocking":
		return ClientSync, nil
	default:
		return "", fmt.Errorf("unsupported client %q (supported: pipelined, sync)", name)
	}
}

// NewConnector returns the Connector for client.
func NewConnector(client Client) (Connector, error) {
	switch client {
	case ClientPipelined:
		return PipelinedConnector{}, nil
	case ClientSync:
		return SyncConnector{}, nil
	default:
		return nil, fmt.Errorf("unsupported client %q", client)
	}
}

// ConnectError reports a failure to establish the backend connection.
type ConnectError struct {
	Client Client
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s connect: %v", e.Client, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PrepareError reports a failure to prepare the benchmarked statement.
type PrepareError struct {
	SQL string
	Err error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("prepare %q: %v", e.SQL, e.Err)
}

func (e *PrepareError) Unwrap() error { return e.Err }
