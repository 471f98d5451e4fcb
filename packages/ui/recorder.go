package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
)

// Call is one recorded Bridge invocation.
type Call struct {
	Method string
	Text   string
	Class  results.Class
	Lines  []string
	ID     string
	State  registry.State
}

// Recorder is a Bridge that remembers every call. It is safe for
// concurrent use so tests can inspect it while a run is in flight.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	visible bool
	lines   []string
	markers map[string]registry.State
}

var (
	_ Bridge = (*Recorder)(nil)
	_ Viewer = (*Recorder)(nil)
)

func NewRecorder() *Recorder {
	return &Recorder{markers: make(map[string]registry.State)}
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Recorder) Echo(text string) {
	r.record(Call{Method: "Echo", Text: text})
}

func (r *Recorder) EchoClassified(text string, class results.Class) {
	r.record(Call{Method: "EchoClassified", Text: text, Class: class})
}

func (r *Recorder) Error(text string) {
	r.record(Call{Method: "Error", Text: text})
}

func (r *Recorder) PresentOutputLines(lines []string) {
	r.mu.Lock()
	r.visible = true
	r.lines = append([]string(nil), lines...)
	r.mu.Unlock()
	r.record(Call{Method: "PresentOutputLines", Lines: append([]string(nil), lines...)})
}

func (r *Recorder) ClearPresentedOutput() {
	r.mu.Lock()
	r.visible = false
	r.lines = nil
	r.mu.Unlock()
	r.record(Call{Method: "ClearPresentedOutput"})
}

func (r *Recorder) PlaceMarker(id string, loc protocol.Location) {
	r.mu.Lock()
	r.markers[id] = registry.StateCollected
	r.mu.Unlock()
	r.record(Call{Method: "PlaceMarker", ID: id, Text: loc.String()})
}

func (r *Recorder) SetMarkerState(id string, state registry.State) {
	r.mu.Lock()
	r.markers[id] = state
	r.mu.Unlock()
	r.record(Call{Method: "SetMarkerState", ID: id, State: state})
}

func (r *Recorder) RemoveAllMarkers() {
	r.mu.Lock()
	r.markers = make(map[string]registry.State)
	r.mu.Unlock()
	r.record(Call{Method: "RemoveAllMarkers"})
}

func (r *Recorder) ResultsVisible() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

// Lines returns the currently presented report lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls to method.
func (r *Recorder) CallsTo(method string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Markers returns the last state of every marker.
func (r *Recorder) Markers() map[string]registry.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]registry.State, len(r.markers))
	for k, v := range r.markers {
		out[k] = v
	}
	return out
}

// Texts returns the text of every echo and error call, prefixed by method,
// which reads well in assertion failures.
func (r *Recorder) Texts() []string {
	var out []string
	for _, c := range r.Calls() {
		switch c.Method {
		case "Echo", "EchoClassified", "Error":
			out = append(out, fmt.Sprintf("%s: %s", c.Method, c.Text))
		}
	}
	return out
}

// HasText reports whether any echo or error contains substr.
func (r *Recorder) HasText(substr string) bool {
	for _, text := range r.Texts() {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}
