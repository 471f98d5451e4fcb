package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
)

// Run is one finished test run as seen by the formatters.
type Run struct {
	Target      string
	Summary     results.Summary
	Markers     []registry.Marker
	Duration    time.Duration
	Cancelled   bool
	WorkerError string
}

// Formatter renders runs.
type Formatter interface {
	FormatRun(run Run)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable is implemented by formatters that write everything at the end.
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

// Formats lists the names accepted by New.
var Formats = []string{"console", "json", "junit", "tap"}

// New returns the formatter registered under name.
func New(name string, w io.Writer, noColor bool) (Formatter, error) {
	switch strings.ToLower(name) {
	case "", "console":
		return NewConsoleFormatter(WithWriter(w), WithNoColor(noColor)), nil
	case "json":
		return NewJSONFormatter(JSONWithWriter(w)), nil
	case "junit":
		return NewJUnitFormatter(JUnitWithWriter(w)), nil
	case "tap":
		return NewTAPFormatter(TAPWithWriter(w)), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (want one of %s)", name, strings.Join(Formats, ", "))
	}
}

// OutcomeIncomplete labels items that never reached an outcome.
const OutcomeIncomplete = "incomplete"

// ItemOutcome returns the outcome label of m, or OutcomeIncomplete.
func ItemOutcome(m registry.Marker) string {
	if m.State.IsOutcome() {
		return m.State.Outcome()
	}
	return OutcomeIncomplete
}

// failureText is the report body attached to failing items.
func failureText(run Run) string {
	if run.WorkerError != "" {
		return run.WorkerError
	}
	return strings.Join(run.Summary.Lines(), "\n")
}
