package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/worker"
)

// Worker is a started worker as seen by the Supervisor.
type Worker interface {
	// Conn is the supervisor end of the event channel.
	Conn() *channel.Conn
	PID() int
	// Interrupt asks the worker to stop. It returns ErrProcessLookup when
	// the worker has already exited.
	Interrupt() error
	// Kill ends the worker without giving it a chance to report.
	Kill() error
	// Wait blocks until the worker has exited.
	Wait() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, target worker.Target) (Worker, error)
}

// ProcessSpawner starts the worker as a child process. The child inherits
// the channel as file descriptors 3 and 4 and receives the target as
// --path and --line flags appended to Args.
type ProcessSpawner struct {
	// Binary defaults to the running executable.
	Binary string
	Args   []string
	Dir    string
	// Env is the full child environment, os.Environ() when nil.
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (s *ProcessSpawner) Spawn(_ context.Context, target worker.Target) (Worker, error) {
	binary := s.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		binary = exe
	}

	args := append([]string(nil), s.Args...)
	args = append(args, "--path", target.Path)
	if target.Line > 0 {
		args = append(args, "--line", strconv.Itoa(target.Line))
	}

	conn, child, err := channel.OSPipe()
	if err != nil {
		return nil, err
	}

	// The worker outlives the spawning context; Stop is the only way to
	// interrupt it.
	cmd := exec.Command(binary, args...)
	cmd.Dir = s.Dir
	cmd.Env = s.Env
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.ExtraFiles = child.ExtraFiles()

	if err := cmd.Start(); err != nil {
		_ = conn.Close()
		_ = child.Close()
		return nil, err
	}
	// The child holds its own copies now.
	_ = child.Close()

	return &processWorker{cmd: cmd, conn: conn}, nil
}

type processWorker struct {
	cmd  *exec.Cmd
	conn *channel.Conn

	waitOnce sync.Once
	waitErr  error
}

func (w *processWorker) Conn() *channel.Conn { return w.conn }

func (w *processWorker) PID() int { return w.cmd.Process.Pid }

func (w *processWorker) Interrupt() error {
	return signalProcess(w.cmd.Process, os.Interrupt)
}

func (w *processWorker) Kill() error {
	return signalProcess(w.cmd.Process, os.Kill)
}

func (w *processWorker) Wait() error {
	w.waitOnce.Do(func() {
		w.waitErr = wrapExitError(w.cmd.Wait())
	})
	return w.waitErr
}

// signalProcess maps an already-exited process to ErrProcessLookup.
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return ErrProcessLookup
	}
	return err
}

// FuncSpawner runs the worker in-process over an in-memory channel. Interrupt
// cancels the worker's context.
type FuncSpawner struct {
	Func worker.Func
}

func (s *FuncSpawner) Spawn(_ context.Context, target worker.Target) (Worker, error) {
	if s.Func == nil {
		return nil, errors.New("no worker function")
	}

	sup, wrk := channel.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	w := &funcWorker{conn: sup, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer cancel()
		w.err = s.Func(ctx, target, wrk)
		_ = wrk.Close()
	}()
	return w, nil
}

type funcWorker struct {
	conn   *channel.Conn
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (w *funcWorker) Conn() *channel.Conn { return w.conn }

func (w *funcWorker) PID() int { return os.Getpid() }

func (w *funcWorker) Interrupt() error {
	select {
	case <-w.done:
		return ErrProcessLookup
	default:
	}
	w.cancel()
	return nil
}

func (w *funcWorker) Kill() error {
	w.cancel()
	return w.conn.Close()
}

func (w *funcWorker) Wait() error {
	<-w.done
	if errors.Is(w.err, context.Canceled) {
		return nil
	}
	return w.err
}
