package protocol

import "fmt"

// ProtocolError reports a malformed or out-of-order event. Consumers log
// it and move on to the next event.
type ProtocolError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol: " + e.Reason
	if e.Kind != "" {
		msg = fmt.Sprintf("protocol: %s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
