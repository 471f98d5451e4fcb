// Package supervisor owns the lifecycle of one test run at a time.
//
// A Supervisor spawns a worker through a Spawner, consumes the worker's
// event stream on a dedicated goroutine and routes every event to the
// marker registry, the results aggregator and the UI bridge. Stop asks the
// worker to interrupt itself and then waits until the stream has been
// fully drained and the worker has exited.
//
// Lifecycle:
//
//	Idle -> Starting -> Running -> Finishing -> Idle
//	                       |
//	                       +-> Cancelling -> Idle
package supervisor
