// Package runner drives the executions of a benchmark run.
//
// Two topologies share the same [Options]:
//
//   - [Pipeline] keeps up to Pipelining executions of a prepared statement
//     outstanding on one connection until Count have been issued. Its
//     result is a [completion.Coordinator] resolved by the success of the
//     last execution or by the first failure.
//   - [Parallel] launches Count independent executions in one burst and
//     collects every outcome in an [Aggregator].
//
// # Basic Usage
//
//	p := runner.NewPipeline(runner.Options{
//		Count:      5000,
//		Pipelining: 16,
//		Recorder:   rec,
//	})
//	coord := p.Start(ctx, stmt)
//	if err := coord.Await(2 * time.Minute); err != nil {
//		// failure or completion.ErrTimeout
//	}
//
// # Outstanding Work
//
// Neither topology cancels executions once the run has an outcome. After a
// timeout or a failure the caller closes the backend connection, which
// completes whatever is still outstanding with an error. [Pipeline.Drained]
// reports when every slot has ended.
//
// # Continuations
//
// Completions are delivered from the adapter (inline for the sync adapter,
// from the pipeline event loop otherwise). The scheduler queues each slot's
// next step and runs the queue on whichever goroutine finds it idle, so call
// depth does not grow with Count.
package runner
