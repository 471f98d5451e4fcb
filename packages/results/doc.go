// Package results accumulates the outcome of a test run.
//
// The Aggregator counts started items, records the outcome mapping from the
// worker's session summary and the captured report text, and derives the
// set of bad outcomes that decides whether the report is shown to the user.
// Summary returns an immutable snapshot for formatters and history.
package results
