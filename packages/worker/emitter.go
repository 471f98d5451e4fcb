package worker

import (
	"sync"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

// Emitter sends events in protocol order. Out-of-order calls return a
// *protocol.ProtocolError and send nothing.
type Emitter struct {
	conn *channel.Conn

	mu              sync.Mutex
	collected       bool
	sessionFinished bool
	stdoutSent      bool
	terminated      bool
}

func NewEmitter(conn *channel.Conn) *Emitter {
	return &Emitter{conn: conn}
}

func (e *Emitter) Protocol(item protocol.ItemRef) error {
	return e.send(protocol.Protocol{Item: item}, nil)
}

func (e *Emitter) CollectionFinish(items []protocol.ItemRef) error {
	return e.send(protocol.CollectionFinish{Items: items}, func() string {
		if e.collected {
			return "collection already finished"
		}
		e.collected = true
		return ""
	})
}

func (e *Emitter) Stage(stage string, item protocol.ItemRef) error {
	return e.send(protocol.Stage{Stage: stage, Item: item}, e.requireCollected)
}

func (e *Emitter) LogReport(id, stage, outcome string, duration float64) error {
	ev := protocol.LogReport{ID: id, Stage: stage, Outcome: outcome, Duration: duration}
	return e.send(ev, e.requireCollected)
}

func (e *Emitter) SessionFinish(outcomes map[string]int) error {
	return e.send(protocol.SessionFinish{Outcomes: outcomes}, func() string {
		if e.sessionFinished {
			return "session already finished"
		}
		e.sessionFinished = true
		return ""
	})
}

func (e *Emitter) Stdout(text string) error {
	return e.send(protocol.Stdout{Text: text}, func() string {
		if e.stdoutSent {
			return "stdout already sent"
		}
		e.stdoutSent = true
		return ""
	})
}

// Error sends the terminal error event. Nothing can be sent afterwards.
func (e *Emitter) Error(message string) error {
	return e.send(protocol.Error{Message: message}, func() string {
		e.terminated = true
		return ""
	})
}

func (e *Emitter) Quit() error {
	return e.send(protocol.Quit{}, func() string {
		e.terminated = true
		return ""
	})
}

// Raw sends an arbitrary event without ordering checks other than
// termination. It exists for forward-compatible event kinds.
func (e *Emitter) Raw(ev protocol.Event) error {
	return e.send(ev, nil)
}

func (e *Emitter) requireCollected() string {
	if !e.collected {
		return "collection not finished"
	}
	return ""
}

func (e *Emitter) send(ev protocol.Event, check func() string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminated {
		return &protocol.ProtocolError{Kind: ev.Kind(), Reason: "stream already terminated"}
	}
	if check != nil {
		if reason := check(); reason != "" {
			return &protocol.ProtocolError{Kind: ev.Kind(), Reason: reason}
		}
	}
	return e.conn.Send(ev)
}
