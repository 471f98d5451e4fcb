package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
	"github.com/abdul-hamid-achik/vptest/packages/worker"
)

const (
	helperEnv       = "VPTEST_HELPER_WORKER"
	helperScriptEnv = "VPTEST_HELPER_SCRIPT"
)

// TestMain lets the test binary double as a worker process.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runHelperWorker())
	}
	os.Exit(m.Run())
}

func runHelperWorker() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := channel.FromInheritedFiles()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer conn.Close()

	s, err := worker.ParseScript([]byte(os.Getenv(helperScriptEnv)))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := s.Run(ctx, worker.Target{}, conn); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperSpawner(script string) *ProcessSpawner {
	return &ProcessSpawner{
		Binary: os.Args[0],
		Env:    append(os.Environ(), helperEnv+"=1", helperScriptEnv+"="+script),
		Stderr: os.Stderr,
	}
}

func TestProcessSpawner_PassingRun(t *testing.T) {
	rec := ui.NewRecorder()
	sup := New(helperSpawner(passingRun), rec)

	report := runToEnd(t, sup, worker.Target{Path: "a_test.go"})

	assert.NoError(t, report.ExitErr)
	assert.Equal(t, map[string]registry.State{"a": "outcome_passed"}, rec.Markers())
	assert.True(t, rec.HasText("1 tests done: 1 passed"))
}

func TestProcessSpawner_Interrupt(t *testing.T) {
	rec := ui.NewRecorder()
	sup := New(helperSpawner(interruptibleRun), rec)

	require.NoError(t, sup.Start(context.Background(), worker.Target{Path: "a_test.go"}))
	require.Eventually(t, func() bool {
		return rec.Markers()["a"] == "stage_call"
	}, 10*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))

	report, ok := sup.LastReport()
	require.True(t, ok)
	assert.True(t, report.Cancelled)
	assert.Equal(t, map[string]int{"interrupted": 1}, report.Summary.Outcomes)
	assert.Equal(t, []string{"KeyboardInterrupt"}, rec.Lines())

	assert.ErrorIs(t, sup.Stop(context.Background()), ErrNoActiveRun)
}

func TestProcessSpawner_MissingBinary(t *testing.T) {
	sup := New(&ProcessSpawner{Binary: "/nonexistent/vptest-worker"}, ui.NewRecorder())

	err := sup.Start(context.Background(), worker.Target{Path: "a_test.go"})
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, StateIdle, sup.State())
}

func TestProcessWorker_InterruptAfterExit(t *testing.T) {
	s := helperSpawner("steps:\n  - quit: true\n")
	w, err := s.Spawn(context.Background(), worker.Target{Path: "a_test.go"})
	require.NoError(t, err)

	ev, err := w.Conn().Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.Quit{}, ev)

	_ = w.Conn().Close()
	require.NoError(t, w.Wait())
	assert.ErrorIs(t, w.Interrupt(), ErrProcessLookup)
}
