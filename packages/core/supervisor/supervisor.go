package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
	"github.com/abdul-hamid-achik/vptest/packages/worker"
)

// Target is the file, and optionally the line, a run is scoped to.
type Target = worker.Target

// Report describes a finished run.
type Report struct {
	Target     worker.Target
	Summary    results.Summary
	Markers    []registry.Marker
	StartedAt  time.Time
	FinishedAt time.Time
	// Cancelled is set when the run ended through Stop.
	Cancelled bool
	// WorkerErr is set when the worker reported an error event.
	WorkerErr *WorkerError
	// ExitErr is the worker's exit status, if it was not clean.
	ExitErr error
}

func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Supervisor runs one worker at a time and routes its events.
type Supervisor struct {
	spawner  Spawner
	bridge   ui.Bridge
	registry *registry.Registry
	results  *results.Aggregator
	logger   *slog.Logger
	grace    time.Duration
	progress *rate.Limiter
	onFinish func(Report)

	mu      sync.Mutex
	state   State
	target  worker.Target
	current Worker
	done    chan struct{}
	last    *Report
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithGracePeriod makes Stop kill the worker when it has not exited this
// long after the interrupt. Zero waits indefinitely.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		s.grace = d
	}
}

// WithProgressRate limits progress echoes to perSecond. The last progress
// line of a run is always shown. Zero or less disables the limit.
func WithProgressRate(perSecond float64) Option {
	return func(s *Supervisor) {
		if perSecond <= 0 {
			s.progress = nil
			return
		}
		s.progress = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithOnFinish registers a callback run on the event goroutine after a run
// ends and before Done is closed. It must not call Start or Stop.
func WithOnFinish(fn func(Report)) Option {
	return func(s *Supervisor) {
		s.onFinish = fn
	}
}

// New creates an idle Supervisor. Markers are forwarded to bridge.
func New(spawner Spawner, bridge ui.Bridge, opts ...Option) *Supervisor {
	s := &Supervisor{
		spawner:  spawner,
		bridge:   bridge,
		registry: registry.New(bridge),
		results:  results.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Registry() *registry.Registry { return s.registry }

func (s *Supervisor) Results() *results.Aggregator { return s.results }

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the target of the current or most recent run.
func (s *Supervisor) Target() worker.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Done returns a channel closed when the current run has been joined. It is
// already closed when no run is active.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Wait blocks until the current run is joined and returns its report.
func (s *Supervisor) Wait(ctx context.Context) (Report, error) {
	select {
	case <-s.Done():
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
	r, ok := s.LastReport()
	if !ok {
		return Report{}, ErrNoActiveRun
	}
	return r, nil
}

// LastReport returns the report of the most recent finished run.
func (s *Supervisor) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Start resets the run state, spawns a worker for target and begins
// consuming its events on a new goroutine. It returns once the worker is
// started.
func (s *Supervisor) Start(ctx context.Context, target worker.Target) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrRunActive
	}
	s.state = StateStarting
	s.target = target
	s.mu.Unlock()

	s.registry.Reset()
	s.results.Reset()

	w, err := s.spawner.Spawn(ctx, target)
	if err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return &SpawnError{Target: target, Err: err}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.current = w
	s.done = done
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("test run started", "target", target.String(), "pid", w.PID())
	s.bridge.Echo("Running tests on " + target.String())
	go s.loop(w, target, done, time.Now())
	return nil
}

// Stop interrupts the active run and blocks until it has been joined.
// The event stream keeps being drained while the worker reports its
// partial results. ctx only bounds how long Stop waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	w := s.current
	done := s.done
	if !state.Active() || w == nil {
		s.mu.Unlock()
		return ErrNoActiveRun
	}
	if state == StateRunning {
		s.state = StateCancelling
	}
	s.mu.Unlock()

	if state == StateRunning {
		s.bridge.Echo(fmt.Sprintf("Stopping test run (PID %d).", w.PID()))
		if err := w.Interrupt(); err != nil {
			if errors.Is(err, ErrProcessLookup) {
				return ErrProcessLookup
			}
			s.logger.Warn("interrupting worker", "pid", w.PID(), "error", err)
		}
	}

	var grace <-chan time.Time
	if s.grace > 0 {
		t := time.NewTimer(s.grace)
		defer t.Stop()
		grace = t.C
	}

	for {
		select {
		case <-done:
			if state == StateRunning {
				s.bridge.Echo("Stopped test run.")
			}
			return nil
		case <-grace:
			s.logger.Warn("worker did not stop in time, killing it", "pid", w.PID(), "grace", s.grace)
			if err := w.Kill(); err != nil && !errors.Is(err, ErrProcessLookup) {
				s.logger.Error("killing worker", "pid", w.PID(), "error", err)
			}
			grace = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) loop(w Worker, target worker.Target, done chan struct{}, startedAt time.Time) {
	report := Report{Target: target, StartedAt: startedAt}
	conn := w.Conn()

	for {
		ev, err := conn.Receive()
		if err != nil {
			if errors.Is(err, channel.ErrClosed) {
				s.logger.Debug("event channel closed", "error", err)
				break
			}
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				s.logger.Warn("skipping malformed event", "error", err)
				continue
			}
			s.logger.Error("reading event channel", "error", err)
			break
		}

		if werr, stop := s.dispatch(ev); stop {
			report.WorkerErr = werr
			break
		}
	}

	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateFinishing
	}
	s.mu.Unlock()

	_ = conn.Close()
	report.ExitErr = w.Wait()
	if report.ExitErr != nil {
		s.logger.Debug("worker exit", "pid", w.PID(), "error", report.ExitErr)
	}

	report.FinishedAt = time.Now()
	report.Summary = s.results.Summary()
	report.Markers = s.registry.Items()

	s.mu.Lock()
	report.Cancelled = s.state == StateCancelling
	s.mu.Unlock()

	s.logger.Info("test run finished",
		"target", target.String(),
		"result", report.Summary.Text,
		"cancelled", report.Cancelled,
		"duration", report.Duration())

	if s.onFinish != nil {
		s.onFinish(report)
	}

	s.mu.Lock()
	s.last = &report
	s.current = nil
	s.state = StateIdle
	s.mu.Unlock()
	close(done)
}

// dispatch handles one event. stop is true when the event ends the stream.
// A panic in a handler is reported and the loop continues.
func (s *Supervisor) dispatch(ev protocol.Event) (werr *WorkerError, stop bool) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(&HandlerFault{Kind: ev.Kind(), Cause: fmt.Errorf("panic: %v", r)})
			werr, stop = nil, false
		}
	}()

	s.logger.Debug("event", "kind", ev.Kind())

	switch ev := ev.(type) {
	case protocol.Protocol:
		s.onProtocol()
	case protocol.CollectionFinish:
		s.results.Collected(len(ev.Items))
		for _, item := range ev.Items {
			s.registry.Ensure(item.ID, item.Location)
		}
	case protocol.Stage:
		s.transition(ev.Kind(), ev.Item.ID, registry.StageState(ev.Stage))
	case protocol.LogReport:
		s.transition(ev.Kind(), ev.ID, registry.OutcomeState(ev.Outcome))
		s.results.Duration(ev.Duration)
	case protocol.SessionFinish:
		s.results.SessionFinish(ev.Outcomes)
	case protocol.Stdout:
		if !s.results.Stdout(ev.Text) {
			s.logger.Warn("ignoring repeated stdout event")
			return nil, false
		}
		ui.ShowResults(s.bridge, s.results.Summary())
	case protocol.Error:
		s.logger.Error("worker reported an error", "message", ev.Message)
		s.bridge.Error("Exception in test process: " + ev.Message)
		return &WorkerError{Message: ev.Message}, true
	case protocol.Quit:
		return nil, true
	case protocol.Unknown:
		s.logger.Warn("unhandled event", "kind", ev.Name)
		s.bridge.Echo(fmt.Sprintf("Unhandled event: %s", ev.Name))
	default:
		s.logger.Warn("unhandled event", "kind", ev.Kind())
		s.bridge.Echo(fmt.Sprintf("Unhandled event: %s", ev.Kind()))
	}
	return nil, false
}

func (s *Supervisor) onProtocol() {
	started, collected := s.results.Protocol()
	last := started >= collected
	if s.progress != nil && !last && !s.progress.Allow() {
		return
	}
	s.bridge.Echo(fmt.Sprintf("Running test %d/%d", started, collected))
}

func (s *Supervisor) transition(kind protocol.Kind, id string, state registry.State) {
	if err := s.registry.Transition(id, state); err != nil {
		perr := &protocol.ProtocolError{Kind: kind, Reason: "event for unknown item " + id, Err: err}
		s.logger.Warn("skipping event", "error", perr)
	}
}

func (s *Supervisor) fault(f *HandlerFault) {
	s.logger.Error("event handler failed", "kind", f.Kind, "error", f.Cause)
	s.bridge.Error("Exception in message thread: " + f.Error())
}
