package ui

import (
	"context"
	"sync"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
)

// Queue marshals Bridge calls from any goroutine onto the goroutine that
// drains it. Posting never blocks; calls run in posting order.
type Queue struct {
	target Bridge

	mu      sync.Mutex
	pending []func(Bridge)
	closed  bool
	notify  chan struct{}
}

var _ Bridge = (*Queue)(nil)

// NewQueue creates a queue that delivers calls to target.
func NewQueue(target Bridge) *Queue {
	return &Queue{
		target: target,
		notify: make(chan struct{}, 1),
	}
}

// Do posts an arbitrary UI intent.
func (q *Queue) Do(fn func(Bridge)) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain runs every call posted so far and returns how many ran. It must be
// called from the UI goroutine.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, fn := range batch {
		fn(q.target)
	}
	return len(batch)
}

// Run drains the queue until ctx is done or the queue is closed, then
// drains once more.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.Drain()

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			q.Drain()
			return nil
		}

		select {
		case <-ctx.Done():
			q.Drain()
			return ctx.Err()
		case <-q.notify:
		}
	}
}

// Notify returns a channel that receives a value whenever calls are posted.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Close stops accepting new calls. Calls already posted are still run by
// the next Drain.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) Echo(text string) {
	q.Do(func(b Bridge) { b.Echo(text) })
}

func (q *Queue) EchoClassified(text string, class results.Class) {
	q.Do(func(b Bridge) { b.EchoClassified(text, class) })
}

func (q *Queue) Error(text string) {
	q.Do(func(b Bridge) { b.Error(text) })
}

func (q *Queue) PresentOutputLines(lines []string) {
	copied := append([]string(nil), lines...)
	q.Do(func(b Bridge) { b.PresentOutputLines(copied) })
}

func (q *Queue) ClearPresentedOutput() {
	q.Do(func(b Bridge) { b.ClearPresentedOutput() })
}

func (q *Queue) PlaceMarker(id string, loc protocol.Location) {
	q.Do(func(b Bridge) { b.PlaceMarker(id, loc) })
}

func (q *Queue) SetMarkerState(id string, state registry.State) {
	q.Do(func(b Bridge) { b.SetMarkerState(id, state) })
}

func (q *Queue) RemoveAllMarkers() {
	q.Do(func(b Bridge) { b.RemoveAllMarkers() })
}
