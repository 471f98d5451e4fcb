package worker

import (
	"context"
	"strconv"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
)

// Target is the file, and optionally the line, a run is scoped to.
type Target struct {
	Path string
	Line int
}

func (t Target) String() string {
	if t.Line <= 0 {
		return t.Path
	}
	return t.Path + ":" + strconv.Itoa(t.Line)
}

// Func runs a worker against its end of a channel. It returns once the run
// is over; cancellation of ctx is the interrupt request.
type Func func(ctx context.Context, target Target, conn *channel.Conn) error
