package ui

import (
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
)

// Bridge is implemented by user interfaces. Implementations are not
// required to be safe for concurrent use; callers on other goroutines go
// through a Queue.
type Bridge interface {
	Echo(text string)
	EchoClassified(text string, class results.Class)
	Error(text string)
	PresentOutputLines(lines []string)
	ClearPresentedOutput()
	PlaceMarker(id string, loc protocol.Location)
	SetMarkerState(id string, state registry.State)
	RemoveAllMarkers()
}

// Viewer is implemented by bridges that know whether the results view is
// currently shown.
type Viewer interface {
	ResultsVisible() bool
}

// ShowResults presents the report when the run has bad outcomes and clears
// any previous report otherwise, then echoes the summary line.
func ShowResults(b Bridge, s results.Summary) {
	if s.Failed() {
		b.PresentOutputLines(s.Lines())
	} else {
		b.ClearPresentedOutput()
	}
	b.EchoClassified(s.Text, s.Class)
}

// ToggleResults closes the results view when it is open and opens it with
// the report of s otherwise. On a Queue the toggle runs on the UI goroutine.
func ToggleResults(b Bridge, s results.Summary) {
	toggle := func(target Bridge) {
		if v, ok := target.(Viewer); ok && v.ResultsVisible() {
			target.ClearPresentedOutput()
			return
		}
		target.PresentOutputLines(s.Lines())
		target.EchoClassified(s.Text, s.Class)
	}

	if q, ok := b.(*Queue); ok {
		q.Do(toggle)
		return
	}
	toggle(b)
}
