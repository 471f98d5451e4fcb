package worker

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

// collect reads events from conn until the peer closes it.
func collect(conn *channel.Conn) <-chan []protocol.Event {
	out := make(chan []protocol.Event, 1)
	go func() {
		var events []protocol.Event
		for {
			ev, err := conn.Receive()
			if err != nil {
				if errors.Is(err, channel.ErrClosed) {
					out <- events
					return
				}
				continue
			}
			events = append(events, ev)
		}
	}()
	return out
}

func kinds(events []protocol.Event) []protocol.Kind {
	out := make([]protocol.Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

func TestEmitter_Ordering(t *testing.T) {
	sup, wrk := channel.Pipe()
	got := collect(sup)
	em := NewEmitter(wrk)
	item := protocol.ItemRef{ID: "a"}

	var perr *protocol.ProtocolError

	err := em.Stage(protocol.StageCall, item)
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindStage, perr.Kind)

	err = em.LogReport("a", protocol.StageCall, protocol.OutcomePassed, 0)
	require.ErrorAs(t, err, &perr)

	require.NoError(t, em.CollectionFinish([]protocol.ItemRef{item}))
	require.ErrorAs(t, em.CollectionFinish(nil), &perr)

	require.NoError(t, em.Protocol(item))
	require.NoError(t, em.Stage(protocol.StageCall, item))
	require.NoError(t, em.LogReport("a", protocol.StageCall, protocol.OutcomePassed, 0.5))
	require.NoError(t, em.SessionFinish(map[string]int{"passed": 1}))
	require.ErrorAs(t, em.SessionFinish(nil), &perr)
	require.NoError(t, em.Stdout("h\nbody\nf"))
	require.ErrorAs(t, em.Stdout("again"), &perr)

	require.NoError(t, wrk.Close())
	events := <-got
	assert.Equal(t, []protocol.Kind{
		protocol.KindCollectionFinish,
		protocol.KindProtocol,
		protocol.KindStage,
		protocol.KindLogReport,
		protocol.KindSessionFinish,
		protocol.KindStdout,
	}, kinds(events))
}

func TestEmitter_NothingAfterError(t *testing.T) {
	sup, wrk := channel.Pipe()
	got := collect(sup)
	em := NewEmitter(wrk)

	require.NoError(t, em.Error("boom"))

	var perr *protocol.ProtocolError
	require.ErrorAs(t, em.CollectionFinish(nil), &perr)
	require.ErrorAs(t, em.Quit(), &perr)

	require.NoError(t, wrk.Close())
	events := <-got
	require.Len(t, events, 1)
	assert.Equal(t, protocol.Error{Message: "boom"}, events[0])
}

const passingScript = `
steps:
  - collectionfinish:
      - {id: "t.go::TestA", file: t.go, line: 3}
      - {id: "t.go::TestB", file: t.go, line: 9}
  - protocol: "t.go::TestA"
  - stage: {stage: call, id: "t.go::TestA"}
  - logreport: {id: "t.go::TestA", stage: call, outcome: passed, duration: 0.25}
  - raw: {kind: mystery, payload: {x: 1}}
  - sessionfinish: {passed: 1}
  - stdout: "header\nok\nfooter"
`

func TestParseScript(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		s, err := ParseScript([]byte(passingScript))
		require.NoError(t, err)
		require.Len(t, s.Steps, 7)
		require.NotNil(t, s.Steps[0].CollectionFinish)
		assert.Len(t, *s.Steps[0].CollectionFinish, 2)
		assert.Equal(t, "t.go::TestA", s.Steps[1].Protocol)
	})

	t.Run("empty collection is kept", func(t *testing.T) {
		s, err := ParseScript([]byte("steps:\n  - collectionfinish: []\n"))
		require.NoError(t, err)
		require.NotNil(t, s.Steps[0].CollectionFinish)
		assert.Empty(t, *s.Steps[0].CollectionFinish)
	})

	t.Run("sleep duration", func(t *testing.T) {
		s, err := ParseScript([]byte("steps:\n  - sleep: 150ms\n"))
		require.NoError(t, err)
		assert.Equal(t, 150*time.Millisecond, s.Steps[0].Sleep)
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := ParseScript([]byte("on_interrupt: []\n"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := ParseScript([]byte("steps: ["))
		assert.Error(t, err)
	})
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(passingScript), 0o644))

	s, err := LoadScript(path)
	require.NoError(t, err)
	assert.Len(t, s.Steps, 7)

	_, err = LoadScript(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestScript_Run(t *testing.T) {
	s, err := ParseScript([]byte(passingScript))
	require.NoError(t, err)

	sup, wrk := channel.Pipe()
	got := collect(sup)

	require.NoError(t, s.Run(context.Background(), Target{Path: "t.go"}, wrk))
	require.NoError(t, wrk.Close())

	events := <-got
	require.Len(t, events, 7)
	assert.Equal(t, protocol.Protocol{Item: protocol.ItemRef{
		ID:       "t.go::TestA",
		Location: protocol.Location{File: "t.go", Line: 3},
	}}, events[1])
	assert.Equal(t, protocol.LogReport{ID: "t.go::TestA", Stage: "call", Outcome: "passed", Duration: 0.25}, events[3])

	unknown, ok := events[4].(protocol.Unknown)
	require.True(t, ok)
	assert.Equal(t, protocol.Kind("mystery"), unknown.Name)
	assert.Equal(t, protocol.Stdout{Text: "header\nok\nfooter"}, events[6])
}

func TestScript_Interrupt(t *testing.T) {
	s, err := ParseScript([]byte(`
steps:
  - collectionfinish: [{id: a, file: t.go, line: 1}]
  - wait_interrupt: true
  - sessionfinish: {passed: 1}
on_interrupt:
  - sessionfinish: {interrupted: 1}
  - stdout: "h\ninterrupted\nf"
`))
	require.NoError(t, err)

	sup, wrk := channel.Pipe()
	got := collect(sup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, Target{}, wrk) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("script did not stop after interrupt")
	}
	require.NoError(t, wrk.Close())

	events := <-got
	assert.Equal(t, []protocol.Kind{
		protocol.KindCollectionFinish,
		protocol.KindSessionFinish,
		protocol.KindStdout,
	}, kinds(events))
	assert.Equal(t, protocol.SessionFinish{Outcomes: map[string]int{"interrupted": 1}}, events[1])
}

const sampleTests = `package sample

import "testing"

func helper() {}

func TestMain(m *testing.M) {}

func TestAlpha(t *testing.T) {
	helper()
}

func TestBeta(t *testing.T) {
	t.Skip("later")
}

func Testlower(t *testing.T) {}

func ExampleAlpha() {}
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample_test.go"), []byte(sampleTests), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.go"), []byte("package sample\n"), 0o644))
	return dir
}

func TestCollectGoTests(t *testing.T) {
	dir := writeSample(t)
	file := filepath.Join(dir, "sample_test.go")

	t.Run("file", func(t *testing.T) {
		gotDir, items, err := CollectGoTests(file)
		require.NoError(t, err)
		assert.Equal(t, dir, gotDir)

		names := make([]string, len(items))
		for i, it := range items {
			names[i] = it.Name
		}
		assert.Equal(t, []string{"TestAlpha", "TestBeta", "ExampleAlpha"}, names)
		assert.Equal(t, "sample_test.go::TestAlpha", items[0].Ref.ID)
		assert.Equal(t, protocol.Location{File: file, Line: 9}, items[0].Ref.Location)
		assert.Equal(t, 11, items[0].EndLine)
	})

	t.Run("directory", func(t *testing.T) {
		gotDir, items, err := CollectGoTests(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, gotDir)
		assert.Len(t, items, 3)
	})

	t.Run("not a test file", func(t *testing.T) {
		_, _, err := CollectGoTests(filepath.Join(dir, "sample.go"))
		assert.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := CollectGoTests(filepath.Join(dir, "nope_test.go"))
		assert.Error(t, err)
	})
}

func TestNarrowToLine(t *testing.T) {
	_, items, err := CollectGoTests(filepath.Join(writeSample(t), "sample_test.go"))
	require.NoError(t, err)

	got := narrowToLine(items, 14)
	require.Len(t, got, 1)
	assert.Equal(t, "TestBeta", got[0].Name)

	assert.Len(t, narrowToLine(items, 1), 3)
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "a_test.go", Target{Path: "a_test.go"}.String())
	assert.Equal(t, "a_test.go:12", Target{Path: "a_test.go", Line: 12}.String())
}

func TestGoTest_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the go tool")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go tool not available")
	}

	dir := writeSample(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/sample\n\ngo 1.21\n"), 0o644))

	sup, wrk := channel.Pipe()
	got := collect(sup)

	g := &GoTest{}
	require.NoError(t, g.Run(context.Background(), Target{Path: filepath.Join(dir, "sample_test.go"), Line: 10}, wrk))
	require.NoError(t, wrk.Close())

	events := <-got
	require.NotEmpty(t, events)
	cf, ok := events[0].(protocol.CollectionFinish)
	require.True(t, ok)
	require.Len(t, cf.Items, 1)
	assert.Equal(t, "sample_test.go::TestAlpha", cf.Items[0].ID)

	var finish protocol.SessionFinish
	for _, ev := range events {
		if sf, ok := ev.(protocol.SessionFinish); ok {
			finish = sf
		}
	}
	assert.Equal(t, map[string]int{"passed": 1}, finish.Outcomes)
	assert.Equal(t, protocol.KindStdout, events[len(events)-1].Kind())
}

const sleepingTests = `package vptestsleep

import (
	"testing"
	"time"
)

func TestSleeps(t *testing.T) {
	time.Sleep(time.Minute)
}
`

// runningBinaries lists the command lines under /proc that mention name.
func runningBinaries(t *testing.T, name string) []string {
	t.Helper()
	cmdlines, _ := filepath.Glob("/proc/[0-9]*/cmdline")
	var found []string
	for _, path := range cmdlines {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if strings.Contains(string(data), name) {
			found = append(found, path)
		}
	}
	return found
}

func TestGoTest_InterruptStopsTestBinary(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the go tool")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go tool not available")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/vptestsleep\n\ngo 1.21\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sleep_test.go"), []byte(sleepingTests), 0o644))

	sup, wrk := channel.Pipe()
	started := make(chan struct{})
	go func() {
		var once sync.Once
		for {
			ev, err := sup.Receive()
			if errors.Is(err, channel.ErrClosed) {
				return
			}
			if ev != nil && ev.Kind() == protocol.KindStage {
				once.Do(func() { close(started) })
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := &GoTest{WaitDelay: 20 * time.Second}
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, Target{Path: dir}, wrk) }()

	select {
	case <-started:
	case err := <-done:
		t.Fatalf("go test finished before the test started: %v", err)
	case <-time.After(2 * time.Minute):
		t.Fatal("test never started")
	}
	// Give the test binary time to enter the sleep.
	time.Sleep(200 * time.Millisecond)

	begin := time.Now()
	cancel()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("go test kept running after interrupt")
	}
	assert.Less(t, time.Since(begin), 10*time.Second)
	require.NoError(t, wrk.Close())

	if _, err := os.Stat("/proc/self/cmdline"); err != nil {
		return
	}
	assert.Eventually(t, func() bool {
		return len(runningBinaries(t, "vptestsleep.test")) == 0
	}, 5*time.Second, 50*time.Millisecond, "test binary outlived the run")
}
