package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/abdul-hamid-achik/vptest/packages/results"
)

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

// WithVerbose also prints the captured report of passing runs.
func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatRun(run Run) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Running: "+run.Target))

	for _, m := range run.Markers {
		outcome := ItemOutcome(m)
		var symbol string
		switch {
		case outcome == "passed":
			symbol = green("✓")
		case outcome == OutcomeIncomplete:
			symbol = yellow("…")
		case results.IsBenign(outcome):
			symbol = yellow("-")
		default:
			symbol = red("✗")
		}
		fmt.Fprintf(f.writer, "  %s %s %s\n", symbol, m.ID, cyan("("+outcome+")"))
	}

	if run.WorkerError != "" {
		fmt.Fprintf(f.writer, "\n%s %s\n", red("Worker error:"), run.WorkerError)
	}

	if run.Summary.Failed() || f.verbose {
		lines := run.Summary.Lines()
		if len(lines) > 0 {
			fmt.Fprintln(f.writer)
		}
		for _, line := range lines {
			fmt.Fprintf(f.writer, "    %s\n", line)
		}
	}

	var summary string
	switch run.Summary.Class {
	case results.ClassGood:
		summary = green(run.Summary.Text)
	case results.ClassWarning:
		summary = yellow(run.Summary.Text)
	default:
		summary = red(run.Summary.Text)
	}
	fmt.Fprintf(f.writer, "\n%s", summary)
	if run.Cancelled {
		fmt.Fprintf(f.writer, " %s", yellow("(stopped)"))
	}
	fmt.Fprintln(f.writer)

	if d := run.Summary.Durations; d.Count > 0 {
		fmt.Fprintf(f.writer, "Stages: %d timed, p50 %s, p95 %s, max %s\n", d.Count, d.P50, d.P95, d.Max)
	}
	fmt.Fprintf(f.writer, "Time:  %dms\n\n", run.Duration.Milliseconds())
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("vptest"), version)
}
