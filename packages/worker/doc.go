// Package worker holds the worker side of the event protocol.
//
// A worker runs in its own process, receives a Target and streams the
// progress of a test run through an Emitter, which enforces the ordering
// rules of the protocol before anything reaches the wire.
//
// Two workers are provided:
//   - GoTest runs `go test -json` for the package that contains the target
//   - Script replays a YAML description of an event sequence
package worker
