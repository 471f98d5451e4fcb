// Package registry tracks the test items of the current run and the state
// of the marker shown for each of them.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

// State is the lifecycle state of an item's marker.
//
// Items move from collected through stage_* states and are pinned by an
// outcome_* state. The order is not enforced: a late or duplicate event
// simply overwrites the previous state.
type State string

const (
	StateCollected State = "collected"

	stagePrefix   = "stage_"
	outcomePrefix = "outcome_"
)

// StageState returns the state for an item that entered stage.
func StageState(stage string) State {
	return State(stagePrefix + stage)
}

// OutcomeState returns the terminal state for an item with outcome.
func OutcomeState(outcome string) State {
	return State(outcomePrefix + outcome)
}

func (s State) IsStage() bool {
	return strings.HasPrefix(string(s), stagePrefix)
}

func (s State) IsOutcome() bool {
	return strings.HasPrefix(string(s), outcomePrefix)
}

// Outcome returns the outcome label of an outcome state, or "".
func (s State) Outcome() string {
	if !s.IsOutcome() {
		return ""
	}
	return strings.TrimPrefix(string(s), outcomePrefix)
}

// ErrUnknownItem is returned by Transition for an id that was never ensured.
var ErrUnknownItem = errors.New("registry: unknown item")

// Marker is the registry's view of one item.
type Marker struct {
	ID       string
	Location protocol.Location
	State    State
}

// MarkerSink receives marker changes, typically a UI bridge.
type MarkerSink interface {
	PlaceMarker(id string, loc protocol.Location)
	SetMarkerState(id string, state State)
	RemoveAllMarkers()
}

// Registry holds the markers of one run. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	markers map[string]*Marker
	sink    MarkerSink
}

// New creates an empty registry. sink may be nil.
func New(sink MarkerSink) *Registry {
	return &Registry{
		markers: make(map[string]*Marker),
		sink:    sink,
	}
}

// Reset drops every marker.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.order = nil
	r.markers = make(map[string]*Marker)
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.RemoveAllMarkers()
	}
}

// Ensure creates a marker in the collected state unless one already exists
// for id, and returns the current marker.
func (r *Registry) Ensure(id string, loc protocol.Location) Marker {
	r.mu.Lock()
	if m, ok := r.markers[id]; ok {
		r.mu.Unlock()
		return *m
	}
	m := &Marker{ID: id, Location: loc, State: StateCollected}
	r.markers[id] = m
	r.order = append(r.order, id)
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.PlaceMarker(id, loc)
		r.sink.SetMarkerState(id, StateCollected)
	}
	return *m
}

// Transition overwrites the state of a known item.
func (r *Registry) Transition(id string, state State) error {
	r.mu.Lock()
	m, ok := r.markers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	m.State = state
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.SetMarkerState(id, state)
	}
	return nil
}

// Get returns the marker for id.
func (r *Registry) Get(id string) (Marker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markers[id]
	if !ok {
		return Marker{}, false
	}
	return *m, true
}

// Items returns a snapshot of all markers in collection order.
func (r *Registry) Items() []Marker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Marker, 0, len(r.order))
	for _, id := range r.order {
		items = append(items, *r.markers[id])
	}
	return items
}

// Len returns the number of known items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
