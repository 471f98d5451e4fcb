package ui

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsCallsInPostingOrderOnDrain(t *testing.T) {
	rec := NewRecorder()
	q := NewQueue(rec)

	q.Echo("one")
	q.Error("two")
	q.EchoClassified("three", results.ClassGood)
	assert.Empty(t, rec.Calls(), "nothing runs before Drain")

	assert.Equal(t, 3, q.Drain())
	assert.Equal(t, []string{"Echo: one", "Error: two", "EchoClassified: three"}, rec.Texts())
	assert.Equal(t, 0, q.Drain())
}

func TestQueue_ConcurrentPostersKeepPerGoroutineOrder(t *testing.T) {
	rec := NewRecorder()
	q := NewQueue(rec)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.SetMarkerState(string(rune('a'+g)), registry.State(string(rune('0'+i%10))))
			}
		}(g)
	}
	wg.Wait()
	q.Drain()

	assert.Len(t, rec.CallsTo("SetMarkerState"), 200)
	for g := 0; g < 4; g++ {
		assert.Equal(t, registry.State("9"), rec.Markers()[string(rune('a'+g))])
	}
}

func TestQueue_RunStopsOnClose(t *testing.T) {
	rec := NewRecorder()
	q := NewQueue(rec)

	done := make(chan error, 1)
	go func() { done <- q.Run(context.Background()) }()

	q.Echo("hello")
	q.Close()
	q.Echo("dropped")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, []string{"Echo: hello"}, rec.Texts())
}

func TestQueue_RunStopsOnContext(t *testing.T) {
	q := NewQueue(NewRecorder())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, q.Run(ctx), context.Canceled)
}

func TestQueue_PresentOutputLinesCopiesInput(t *testing.T) {
	rec := NewRecorder()
	q := NewQueue(rec)

	lines := []string{"a", "b"}
	q.PresentOutputLines(lines)
	lines[0] = "changed"
	q.Drain()

	assert.Equal(t, []string{"a", "b"}, rec.Lines())
}

func failedSummary() results.Summary {
	a := results.New()
	a.Protocol()
	a.SessionFinish(map[string]int{"failed": 1})
	a.Stdout("=== header ===\nFAILED test_a\n=== 1 failed ===")
	return a.Summary()
}

func TestShowResults(t *testing.T) {
	t.Run("bad outcomes present the report", func(t *testing.T) {
		rec := NewRecorder()
		ShowResults(rec, failedSummary())

		assert.True(t, rec.ResultsVisible())
		assert.Equal(t, []string{"FAILED test_a"}, rec.Lines())
		assert.True(t, rec.HasText("1 tests done: 1 failed"))
	})

	t.Run("benign outcomes clear the report", func(t *testing.T) {
		rec := NewRecorder()
		rec.PresentOutputLines([]string{"old"})

		a := results.New()
		a.Protocol()
		a.SessionFinish(map[string]int{"passed": 1})
		a.Stdout("h\n1 passed\nf")
		ShowResults(rec, a.Summary())

		assert.False(t, rec.ResultsVisible())
		calls := rec.CallsTo("EchoClassified")
		require.Len(t, calls, 1)
		assert.Equal(t, results.ClassGood, calls[0].Class)
	})
}

func TestToggleResults_TwiceRestoresVisibility(t *testing.T) {
	rec := NewRecorder()
	q := NewQueue(rec)
	s := failedSummary()

	before := rec.ResultsVisible()
	ToggleResults(q, s)
	q.Drain()
	assert.NotEqual(t, before, rec.ResultsVisible())

	ToggleResults(q, s)
	q.Drain()
	assert.Equal(t, before, rec.ResultsVisible())
}

func TestTerminal(t *testing.T) {
	var out, errOut bytes.Buffer
	term := NewTerminal(WithWriter(&out), WithErrorWriter(&errOut), WithNoColor(true), WithMaxSplitSize(2))

	term.Echo("Running test 1/2")
	term.Error("Exception in test process: boom")
	term.PresentOutputLines([]string{"l1", "l2", "l3"})

	assert.Contains(t, out.String(), "Running test 1/2")
	assert.Contains(t, errOut.String(), "VP: Exception in test process: boom")
	assert.Contains(t, out.String(), "  l2\n")
	assert.NotContains(t, out.String(), "  l3\n")
	assert.Contains(t, out.String(), "1 more lines")
	assert.True(t, term.ResultsVisible())
	assert.Equal(t, []string{"l1", "l2", "l3"}, term.PresentedLines())

	term.ClearPresentedOutput()
	assert.False(t, term.ResultsVisible())
}

func TestTerminal_Markers(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(WithWriter(&out), WithNoColor(true))

	term.PlaceMarker("t.py::a", protocol.Location{File: "t.py", Line: 3})
	term.PlaceMarker("t.py::b", protocol.Location{File: "t.py", Line: 9})
	term.SetMarkerState("t.py::a", registry.OutcomeState("passed"))
	term.SetMarkerState("t.py::b", registry.StageState("call"))
	term.SetMarkerState("missing", registry.OutcomeState("failed"))
	term.PrintMarkers()

	assert.Contains(t, out.String(), "✓ t.py::a (t.py:3)")
	assert.Contains(t, out.String(), "▶ t.py::b (t.py:9)")

	out.Reset()
	term.RemoveAllMarkers()
	term.PrintMarkers()
	assert.Equal(t, "No markers.\n", out.String())
}

func TestMarkerSymbol(t *testing.T) {
	NewTerminal(WithNoColor(true))
	assert.Equal(t, "·", MarkerSymbol(registry.StateCollected))
	assert.Equal(t, "↓", MarkerSymbol(registry.StageState("setup")))
	assert.Equal(t, "↑", MarkerSymbol(registry.StageState("teardown")))
	assert.Equal(t, "✗", MarkerSymbol(registry.OutcomeState("failed")))
	assert.Equal(t, "✗", MarkerSymbol(registry.OutcomeState("error")))
	assert.Equal(t, "-", MarkerSymbol(registry.OutcomeState("skipped")))
	assert.Equal(t, "x", MarkerSymbol(registry.OutcomeState("xfailed")))
}
