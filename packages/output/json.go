package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/vptest/packages/results"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Summary  JSONSummary `json:"summary"`
	Runs     []JSONRun   `json:"runs"`
	Duration float64     `json:"duration"`
	Time     string      `json:"time"`
}

// JSONSummary totals items across every run
type JSONSummary struct {
	Total      int `json:"total"`
	Passed     int `json:"passed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Incomplete int `json:"incomplete"`
}

// JSONRun represents one run
type JSONRun struct {
	Target      string          `json:"target"`
	Class       string          `json:"class"`
	Summary     string          `json:"summary"`
	Outcomes    map[string]int  `json:"outcomes,omitempty"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	WorkerError string          `json:"workerError,omitempty"`
	Duration    float64         `json:"duration"`
	Stages      *JSONStageStats `json:"stages,omitempty"`
	Tests       []JSONTest      `json:"tests"`
	Output      string          `json:"output,omitempty"`
}

// JSONStageStats are stage duration percentiles in milliseconds
type JSONStageStats struct {
	Count int64   `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

// JSONTest represents a single test item
type JSONTest struct {
	ID      string `json:"id"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	State   string `json:"state"`
	Outcome string `json:"outcome"`
}

// JSONFormatter formats test results as JSON
type JSONFormatter struct {
	writer io.Writer
	runs   []JSONRun
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
		runs:   make([]JSONRun, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatRun(run Run) {
	jr := JSONRun{
		Target:      run.Target,
		Class:       run.Summary.Class.String(),
		Summary:     run.Summary.Text,
		Outcomes:    run.Summary.Outcomes,
		Cancelled:   run.Cancelled,
		WorkerError: run.WorkerError,
		Duration:    float64(run.Duration.Milliseconds()),
		Tests:       make([]JSONTest, 0, len(run.Markers)),
		Output:      run.Summary.Output,
	}
	if d := run.Summary.Durations; d.Count > 0 {
		jr.Stages = &JSONStageStats{Count: d.Count, P50: ms(d.P50), P95: ms(d.P95), Max: ms(d.Max)}
	}

	for _, m := range run.Markers {
		jr.Tests = append(jr.Tests, JSONTest{
			ID:      m.ID,
			File:    m.Location.File,
			Line:    m.Location.Line,
			State:   string(m.State),
			Outcome: ItemOutcome(m),
		})
	}
	f.runs = append(f.runs, jr)
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in the run they belong to
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	var summary JSONSummary
	for _, r := range f.runs {
		for _, t := range r.Tests {
			summary.Total++
			switch {
			case t.Outcome == "passed":
				summary.Passed++
			case t.Outcome == OutcomeIncomplete:
				summary.Incomplete++
			case results.IsBenign(t.Outcome):
				summary.Skipped++
			default:
				summary.Failed++
			}
		}
	}

	output := JSONOutput{
		Summary:  summary,
		Runs:     f.runs,
		Duration: float64(totalDuration.Milliseconds()),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
