package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/vptest/packages/core/config"
	"github.com/abdul-hamid-achik/vptest/packages/core/supervisor"
	"github.com/abdul-hamid-achik/vptest/packages/results"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name   string
		report supervisor.Report
		want   int
	}{
		{"passed", supervisor.Report{}, ExitSuccess},
		{"bad outcomes", supervisor.Report{Summary: results.Summary{Bad: []string{"failed"}}}, ExitTestFailure},
		{"worker error", supervisor.Report{WorkerErr: &supervisor.WorkerError{Message: "boom"}}, ExitWorkerError},
		{"stopped wins", supervisor.Report{
			Cancelled: true,
			Summary:   results.Summary{Bad: []string{"interrupted"}},
		}, ExitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.report))
		})
	}
}

func TestToOutputRun(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := toOutputRun(supervisor.Report{
		Target:     supervisor.Target{Path: "a_test.go", Line: 7},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		WorkerErr:  &supervisor.WorkerError{Message: "no tests"},
	})

	assert.Equal(t, "a_test.go:7", run.Target)
	assert.Equal(t, 1500*time.Millisecond, run.Duration)
	assert.Equal(t, "no tests", run.WorkerError)
}

func TestIsWatchedChange(t *testing.T) {
	assert.True(t, isWatchedChange(fsnotify.Event{Name: "a_test.go", Op: fsnotify.Write}))
	assert.True(t, isWatchedChange(fsnotify.Event{Name: "a.go", Op: fsnotify.Create}))
	assert.False(t, isWatchedChange(fsnotify.Event{Name: "a.go", Op: fsnotify.Remove}))
	assert.False(t, isWatchedChange(fsnotify.Event{Name: "notes.md", Op: fsnotify.Write}))
}

func TestWatchDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0755))
	file := filepath.Join(root, "a_test.go")
	require.NoError(t, os.WriteFile(file, []byte("package a\n"), 0644))

	t.Run("file watches its directory", func(t *testing.T) {
		assert.Equal(t, []string{root}, watchDirs(file))
	})

	t.Run("directory watches the tree without hidden dirs", func(t *testing.T) {
		assert.ElementsMatch(t, []string{root, filepath.Join(root, "sub")}, watchDirs(root))
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".vptest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker: script\nscript: events.yaml\nprogressRate: 5\n"), 0644))

	old := configFlag
	configFlag = path
	t.Cleanup(func() { configFlag = old })

	t.Run("flags override the file", func(t *testing.T) {
		cfg, err := loadConfig(&runFlags{grace: 2 * time.Second, noHist: true, noColor: true})
		require.NoError(t, err)
		assert.Equal(t, config.WorkerScript, cfg.Worker)
		assert.Equal(t, 5.0, cfg.ProgressRate)
		assert.Equal(t, 2*time.Second, cfg.StopGracePeriod)
		assert.False(t, cfg.GetHistory())
		assert.True(t, cfg.GetNoColor())
	})

	t.Run("invalid worker is a config error", func(t *testing.T) {
		_, err := loadConfig(&runFlags{worker: "pytest"})
		var ee *exitError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, ExitConfigError, ee.code)
	})
}

func TestNewSpawner(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VPTEST_SPAWNER_TEST=from-file\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.EnvFile = envFile
	sp, err := newSpawner(cfg, os.Stderr)
	require.NoError(t, err)

	assert.Equal(t, []string{"worker", "--kind", "gotest", "--go", "go"}, sp.Args)
	assert.Contains(t, sp.Env, "VPTEST_SPAWNER_TEST=from-file")

	cfg.Worker = config.WorkerScript
	cfg.Script = "events.yaml"
	sp, err = newSpawner(cfg, os.Stderr)
	require.NoError(t, err)
	require.Len(t, sp.Args, 5)
	assert.Equal(t, "--script", sp.Args[3])
	assert.True(t, filepath.IsAbs(sp.Args[4]))
}

func TestExitErrorMessage(t *testing.T) {
	assert.Equal(t, "exit status 1", withExitCode(1, nil).Error())
	err := withExitCode(3, errors.New("bad config"))
	assert.Equal(t, "bad config", err.Error())
}
