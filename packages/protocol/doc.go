// Package protocol defines the events exchanged between a run supervisor
// and a test worker process.
//
// Every event is a value of one of the concrete types in this package:
//   - Protocol: an item is about to start
//   - CollectionFinish: the full list of discovered items
//   - Stage: an item entered setup, call or teardown
//   - LogReport: an item produced an outcome for a stage
//   - SessionFinish: outcome label to count mapping for the whole run
//   - Stdout: the captured textual report
//   - Error: the worker failed; nothing follows
//   - Quit: optional explicit terminator
//
// Events from a newer worker whose kind is not known here decode into
// Unknown so that consumers can log and skip them.
package protocol
