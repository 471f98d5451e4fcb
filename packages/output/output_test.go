package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
)

func sampleRun() Run {
	loc := func(line int) protocol.Location { return protocol.Location{File: "a_test.go", Line: line} }
	return Run{
		Target: "a_test.go",
		Summary: results.Summary{
			Collected:   4,
			Started:     4,
			Outcomes:    map[string]int{"passed": 1, "failed": 1, "skipped": 1},
			HasOutcomes: true,
			Output:      "header\nFAIL: TestB\nexpected 1\nfooter",
			HasOutput:   true,
			Bad:         []string{"failed"},
			Class:       results.ClassBad,
			Text:        "4 tests done: 1 passed, 1 failed, 1 skipped",
			Durations:   results.DurationStats{Count: 2, P50: 2 * time.Millisecond, P95: 5 * time.Millisecond, Max: 5 * time.Millisecond},
		},
		Markers: []registry.Marker{
			{ID: "TestA", Location: loc(3), State: registry.OutcomeState("passed")},
			{ID: "TestB", Location: loc(9), State: registry.OutcomeState("failed")},
			{ID: "TestC", Location: loc(15), State: registry.OutcomeState("skipped")},
			{ID: "TestD", Location: loc(20), State: registry.StageState("call")},
		},
		Duration: 1200 * time.Millisecond,
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	for _, name := range Formats {
		f, err := New(name, &buf, true)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}
	f, err := New("", &buf, true)
	require.NoError(t, err)
	assert.IsType(t, &ConsoleFormatter{}, f)

	_, err = New("html", &buf, true)
	assert.ErrorContains(t, err, "unknown output format")
}

func TestItemOutcome(t *testing.T) {
	assert.Equal(t, "failed", ItemOutcome(registry.Marker{State: registry.OutcomeState("failed")}))
	assert.Equal(t, OutcomeIncomplete, ItemOutcome(registry.Marker{State: registry.StateCollected}))
	assert.Equal(t, OutcomeIncomplete, ItemOutcome(registry.Marker{State: registry.StageState("teardown")}))
}

func TestConsoleFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true))
	f.FormatHeader("1.0.0")
	f.FormatRun(sampleRun())
	f.FormatError(assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "vptest 1.0.0")
	assert.Contains(t, out, "Running: a_test.go")
	assert.Contains(t, out, "✓ TestA (passed)")
	assert.Contains(t, out, "✗ TestB (failed)")
	assert.Contains(t, out, "- TestC (skipped)")
	assert.Contains(t, out, "… TestD (incomplete)")
	assert.Contains(t, out, "    FAIL: TestB\n    expected 1\n")
	assert.NotContains(t, out, "header")
	assert.Contains(t, out, "4 tests done: 1 passed, 1 failed, 1 skipped")
	assert.Contains(t, out, "Stages: 2 timed, p50 2ms, p95 5ms, max 5ms")
	assert.Contains(t, out, "Time:  1200ms")
	assert.Contains(t, out, "Error: ")
}

func TestConsoleFormatter_PassingRunHidesReport(t *testing.T) {
	run := sampleRun()
	run.Summary.Bad = nil
	run.Cancelled = true

	var buf bytes.Buffer
	NewConsoleFormatter(WithWriter(&buf), WithNoColor(true)).FormatRun(run)
	assert.NotContains(t, buf.String(), "FAIL: TestB")
	assert.Contains(t, buf.String(), "(stopped)")

	buf.Reset()
	NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true)).FormatRun(run)
	assert.Contains(t, buf.String(), "FAIL: TestB")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatRun(sampleRun())
	require.NoError(t, f.Flush(2*time.Second))

	var out JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 4, out.Summary.Total)
	assert.Equal(t, 1, out.Summary.Passed)
	assert.Equal(t, 1, out.Summary.Failed)
	assert.Equal(t, 1, out.Summary.Skipped)
	assert.Equal(t, 1, out.Summary.Incomplete)
	assert.Equal(t, float64(2000), out.Duration)

	require.Len(t, out.Runs, 1)
	run := out.Runs[0]
	assert.Equal(t, "bad", run.Class)
	assert.Equal(t, "a_test.go", run.Target)
	require.NotNil(t, run.Stages)
	assert.Equal(t, 5.0, run.Stages.Max)
	require.Len(t, run.Tests, 4)
	assert.Equal(t, JSONTest{ID: "TestB", File: "a_test.go", Line: 9, State: "outcome_failed", Outcome: "failed"}, run.Tests[1])
}

func TestJUnitFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))
	f.FormatRun(sampleRun())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &suites))
	assert.Equal(t, "vptest", suites.Name)
	assert.Equal(t, 4, suites.Tests)
	assert.Equal(t, 1, suites.Failures)
	assert.Equal(t, 1, suites.Errors)
	assert.Equal(t, 1, suites.Skipped)

	require.Len(t, suites.TestSuites, 1)
	cases := suites.TestSuites[0].TestCases
	require.Len(t, cases, 4)
	assert.Nil(t, cases[0].Failure)
	require.NotNil(t, cases[1].Failure)
	assert.Equal(t, "FAIL: TestB\nexpected 1", cases[1].Failure.Content)
	require.NotNil(t, cases[2].Skipped)
	require.NotNil(t, cases[3].Error)
	assert.Equal(t, "did not finish", cases[3].Error.Message)
}

func TestJUnitFormatter_Errors(t *testing.T) {
	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))
	f.FormatRun(Run{Target: "empty_test.go", WorkerError: "go test: no Go files"})
	f.FormatError(assert.AnError)
	require.NoError(t, f.Flush(time.Second))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &suites))
	assert.Equal(t, 2, suites.Tests)
	assert.Equal(t, 2, suites.Errors)
	require.Len(t, suites.TestSuites, 2)
	require.Len(t, suites.TestSuites[0].TestCases, 1)
	assert.Equal(t, "go test: no Go files", suites.TestSuites[0].TestCases[0].Error.Message)
	assert.Equal(t, "setup", suites.TestSuites[1].TestCases[0].Name)
}

func TestTAPFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewTAPFormatter(TAPWithWriter(&buf))
	f.FormatRun(sampleRun())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "TAP version 13\n1..4\n"))
	assert.Contains(t, out, "ok 1 - TestA\n")
	assert.Contains(t, out, "not ok 2 - TestB\n  ---\n  outcome: failed\n")
	assert.Contains(t, out, `message: "FAIL: TestB\nexpected 1"`)
	assert.Contains(t, out, "ok 3 - TestC # SKIP\n")
	assert.Contains(t, out, "not ok 4 - TestD\n")
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain", escapeYAML("plain"))
	assert.Equal(t, `"a: b"`, escapeYAML("a: b"))
	assert.Equal(t, `"say \"hi\"\nbye"`, escapeYAML("say \"hi\"\nbye"))
}
