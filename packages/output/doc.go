// Package output provides formatters for finished test runs.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output
//   - JSON: Machine-readable JSON output
//   - JUnit: JUnit XML format for CI integration
//   - TAP: Test Anything Protocol format
//
// Every formatter implements Formatter. JSON, JUnit and TAP accumulate
// runs and implement Flushable.
package output
