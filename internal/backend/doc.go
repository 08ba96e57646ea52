// Package backend provides the PostgreSQL adapters a benchmark run executes
// against.
//
// Every adapter satisfies the same capability set:
//
//	conn, err := connector.Connect(ctx, uri)
//	stmt, err := conn.Prepare(ctx, "SELECT 1")
//	stmt.Execute(ctx, func(out backend.Outcome) { ... })
//	stmt.Flush()
//	conn.Close(ctx)
//
// # Variants
//
// [ClientPipelined] uses pgx and the extended-protocol pipeline mode of a
// single connection. Executions are queued by Execute, written by Flush and
// completed in order from one event-loop goroutine, so up to the pipelining
// depth may be outstanding at once.
//
// [ClientSync] uses sqlx over lib/pq. Execute blocks until the result set is
// fully consumed and calls done inline, which serializes the run.
//
// # Closing
//
// A run that timed out or failed may leave executions outstanding. Callers
// must Close the connection to stop them; outstanding executions then
// complete with [ErrClosed].
package backend
