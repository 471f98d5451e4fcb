package supervisor

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/worker"
)

var (
	// ErrNoActiveRun is returned by Stop when nothing is running.
	ErrNoActiveRun = errors.New("supervisor: no active run")

	// ErrProcessLookup is returned by Stop when the worker process is
	// already gone. The run is treated as stopped.
	ErrProcessLookup = errors.New("supervisor: worker process not found")

	// ErrRunActive is returned by Start while another run is in progress.
	ErrRunActive = errors.New("supervisor: a run is already active")
)

// SpawnError reports that the worker could not be started. No run state
// is created.
type SpawnError struct {
	Target worker.Target
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("supervisor: spawning worker for %s: %v", e.Target, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WorkerError is a failure reported by the worker through an error event.
// It ends the run.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "worker error: " + e.Message
}

// HandlerFault is a failure inside the handler for a single event. The run
// keeps going.
type HandlerFault struct {
	Kind  protocol.Kind
	Cause error
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("handling %s event: %v", e.Kind, e.Cause)
}

func (e *HandlerFault) Unwrap() error { return e.Cause }

// ExitError is a non-zero worker exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// wrapExitError converts a non-zero *exec.ExitError into *ExitError.
func wrapExitError(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	if ee.ExitCode() == 0 {
		return nil
	}
	return &ExitError{Code: ee.ExitCode(), Err: err}
}
