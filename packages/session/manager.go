package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abdul-hamid-achik/vptest/packages/core/supervisor"
	"github.com/abdul-hamid-achik/vptest/packages/history"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
)

var (
	// ErrUnknownCommand is returned by Dispatch for names it does not map.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNoResults is returned by ToggleResultsView until a run has
	// captured its report.
	ErrNoResults = errors.New("no test results to show")
	// ErrMissingArgument is returned by Dispatch when a command lacks its
	// path or line.
	ErrMissingArgument = errors.New("missing argument")
)

// RunSession is one run started through the Manager.
type RunSession struct {
	ID        string
	Target    supervisor.Target
	StartedAt time.Time
	// Report is set once the run has finished.
	Report *supervisor.Report
	// HistoryID is the id of the recorded history entry, if any.
	HistoryID string
}

// Recorder stores finished runs.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) (string, error)
}

// Manager owns the Supervisor and the sessions it runs.
type Manager struct {
	sup     *supervisor.Supervisor
	bridge  ui.Bridge
	store   Recorder
	logger  *slog.Logger
	supOpts []supervisor.Option

	// runMu serializes stop-then-start sequences.
	runMu sync.Mutex

	mu      sync.Mutex
	current *RunSession
	last    *RunSession
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistory records every finished run in store.
func WithHistory(store Recorder) Option {
	return func(m *Manager) {
		m.store = store
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithSupervisorOptions passes options through to the Supervisor.
func WithSupervisorOptions(opts ...supervisor.Option) Option {
	return func(m *Manager) {
		m.supOpts = append(m.supOpts, opts...)
	}
}

func NewManager(spawner supervisor.Spawner, bridge ui.Bridge, opts ...Option) *Manager {
	m := &Manager{
		bridge: bridge,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	supOpts := append([]supervisor.Option{supervisor.WithLogger(m.logger)}, m.supOpts...)
	supOpts = append(supOpts, supervisor.WithOnFinish(m.finished))
	m.sup = supervisor.New(spawner, bridge, supOpts...)
	return m
}

// Supervisor exposes the underlying Supervisor.
func (m *Manager) Supervisor() *supervisor.Supervisor { return m.sup }

// Current returns the active session, or nil.
func (m *Manager) Current() *RunSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Last returns the most recently finished session, or nil.
func (m *Manager) Last() *RunSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// RunFile runs every test in path.
func (m *Manager) RunFile(ctx context.Context, path string) (*RunSession, error) {
	return m.run(ctx, supervisor.Target{Path: path})
}

// RunAtCursor runs the test enclosing line in path.
func (m *Manager) RunAtCursor(ctx context.Context, path string, line int) (*RunSession, error) {
	return m.run(ctx, supervisor.Target{Path: path, Line: line})
}

func (m *Manager) run(ctx context.Context, target supervisor.Target) (*RunSession, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	// An active run is stopped and joined first so no worker is orphaned.
	if m.sup.State() != supervisor.StateIdle {
		m.logger.Info("stopping active run before starting a new one", "target", target.String())
		err := m.sup.Stop(ctx)
		if err != nil && !errors.Is(err, supervisor.ErrNoActiveRun) && !errors.Is(err, supervisor.ErrProcessLookup) {
			return nil, fmt.Errorf("stopping active run: %w", err)
		}
		select {
		case <-m.sup.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	rs := &RunSession{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: time.Now(),
	}
	m.mu.Lock()
	m.current = rs
	m.mu.Unlock()

	if err := m.sup.Start(ctx, target); err != nil {
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
		return nil, err
	}
	m.logger.Debug("session started", "session", rs.ID, "target", target.String())
	return rs, nil
}

// Wait blocks until the active run, if any, has finished and returns the
// most recent session.
func (m *Manager) Wait(ctx context.Context) (*RunSession, error) {
	select {
	case <-m.sup.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if last := m.Last(); last != nil {
		return last, nil
	}
	return nil, ErrNoResults
}

// ToggleResultsView opens or closes the results view of the current or
// last run. Runs that never sent their report have nothing to show.
func (m *Manager) ToggleResultsView() error {
	summary := m.sup.Results().Summary()
	if !summary.HasOutput {
		return ErrNoResults
	}
	ui.ToggleResults(m.bridge, summary)
	return nil
}

// StopActiveRun interrupts the active run and waits for it to be joined.
func (m *Manager) StopActiveRun(ctx context.Context) error {
	return m.sup.Stop(ctx)
}

// ClearMarkers removes every marker from the UI. The registry is untouched
// until the next run resets it.
func (m *Manager) ClearMarkers() {
	m.bridge.RemoveAllMarkers()
}

// Dispatch runs a named subcommand. Errors are also reported through the
// bridge as single lines.
//
//	file <path>
//	function <path> <line>
//	toggle
//	stop
//	nosigns
func (m *Manager) Dispatch(ctx context.Context, name string, args ...string) error {
	err := m.dispatch(ctx, name, args)
	if err != nil {
		m.bridge.Error(Message(err))
	}
	return err
}

func (m *Manager) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "file":
		if len(args) < 1 {
			return fmt.Errorf("%w: file needs a path", ErrMissingArgument)
		}
		_, err := m.RunFile(ctx, args[0])
		return err
	case "function":
		if len(args) < 2 {
			return fmt.Errorf("%w: function needs a path and a line", ErrMissingArgument)
		}
		line, err := strconv.Atoi(args[1])
		if err != nil || line < 1 {
			return fmt.Errorf("%w: invalid line %q", ErrMissingArgument, args[1])
		}
		_, err = m.RunAtCursor(ctx, args[0], line)
		return err
	case "toggle":
		return m.ToggleResultsView()
	case "stop":
		return m.StopActiveRun(ctx)
	case "nosigns":
		m.ClearMarkers()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// Message turns an error into the line shown to the user.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNoResults):
		return "No test results to show."
	case errors.Is(err, supervisor.ErrNoActiveRun):
		return "No test run is active."
	case errors.Is(err, supervisor.ErrProcessLookup):
		return "Test process already exited."
	default:
		return err.Error()
	}
}

// finished runs on the supervisor goroutine once a run has been joined.
func (m *Manager) finished(r supervisor.Report) {
	m.mu.Lock()
	rs := m.current
	m.current = nil
	if rs == nil {
		rs = &RunSession{ID: uuid.NewString(), Target: r.Target, StartedAt: r.StartedAt}
	}
	report := r
	rs.Report = &report
	m.mu.Unlock()

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		id, err := m.store.Record(ctx, Entry(rs.ID, r))
		cancel()
		if err != nil {
			m.logger.Error("recording run history", "session", rs.ID, "error", err)
		} else {
			rs.HistoryID = id
		}
	}

	m.mu.Lock()
	m.last = rs
	m.mu.Unlock()
}

// Entry converts a finished run into a history entry.
func Entry(id string, r supervisor.Report) history.Entry {
	e := history.Entry{
		ID:        id,
		Path:      r.Target.Path,
		Line:      r.Target.Line,
		StartedAt: r.StartedAt,
		Duration:  r.Duration(),
		Collected: r.Summary.Collected,
		Started:   r.Summary.Started,
		Outcomes:  r.Summary.Outcomes,
		Class:     r.Summary.Class.String(),
		Summary:   r.Summary.Text,
		Cancelled: r.Cancelled,
	}
	if r.WorkerErr != nil {
		e.WorkerError = r.WorkerErr.Message
	}
	for _, mk := range r.Markers {
		e.Items = append(e.Items, history.Item{
			ID:    mk.ID,
			File:  mk.Location.File,
			Line:  mk.Location.Line,
			State: string(mk.State),
		})
	}
	return e
}
