// Package ui defines the boundary between a run supervisor and the user
// interface that displays its progress.
//
// It provides:
//   - Bridge: the capabilities the supervisor reports through
//   - Queue: a Bridge that posts every call onto a single-consumer queue so
//     the UI goroutine executes them on its own turn
//   - Terminal: a Bridge writing colored output to a terminal
//   - Recorder: a Bridge that records calls, for tests
package ui
