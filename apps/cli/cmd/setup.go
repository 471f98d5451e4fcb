package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/vptest/packages/core/config"
	"github.com/abdul-hamid-achik/vptest/packages/core/env"
	"github.com/abdul-hamid-achik/vptest/packages/core/supervisor"
	"github.com/abdul-hamid-achik/vptest/packages/history"
	"github.com/abdul-hamid-achik/vptest/packages/session"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
)

// runFlags are shared by run and shell.
type runFlags struct {
	worker   string
	script   string
	goBinary string
	envFile  string
	grace    time.Duration
	noColor  bool
	noHist   bool
}

func (f *runFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.worker, "worker", getEnvString("VPTEST_WORKER", ""), "Worker kind: gotest or script (env: VPTEST_WORKER)")
	c.Flags().StringVar(&f.script, "script", getEnvString("VPTEST_SCRIPT", ""), "Event script for the script worker (env: VPTEST_SCRIPT)")
	c.Flags().StringVar(&f.goBinary, "go", getEnvString("VPTEST_GO", ""), "Go command used by the gotest worker (env: VPTEST_GO)")
	c.Flags().StringVar(&f.envFile, "env-file", getEnvString("VPTEST_ENV_FILE", ""), "Dotenv file loaded into the worker environment (env: VPTEST_ENV_FILE)")
	c.Flags().DurationVar(&f.grace, "grace", 0, "Kill the worker if it has not stopped this long after an interrupt")
	c.Flags().BoolVar(&f.noColor, "no-color", getEnvBool("VPTEST_NO_COLOR", false), "Disable colored output (env: VPTEST_NO_COLOR)")
	c.Flags().BoolVar(&f.noHist, "no-history", getEnvBool("VPTEST_NO_HISTORY", false), "Do not record runs (env: VPTEST_NO_HISTORY)")
}

// loadConfig reads the config file and lays flag values over it.
func loadConfig(f *runFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, withExitCode(ExitConfigError, fmt.Errorf("loading config: %w", err))
	}

	override := &config.Config{
		Worker:          f.worker,
		Script:          f.script,
		GoBinary:        f.goBinary,
		EnvFile:         f.envFile,
		StopGracePeriod: f.grace,
	}
	if f.noColor {
		override.NoColor = config.BoolPtr(true)
	}
	if f.noHist {
		override.History = config.BoolPtr(false)
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}
	return cfg, nil
}

// newSpawner builds a spawner that re-executes this binary as a worker.
func newSpawner(cfg *config.Config, stderr io.Writer) (*supervisor.ProcessSpawner, error) {
	args := []string{"worker", "--kind", cfg.Worker}
	switch cfg.Worker {
	case config.WorkerScript:
		script, err := filepath.Abs(cfg.Script)
		if err != nil {
			return nil, withExitCode(ExitConfigError, fmt.Errorf("resolving script: %w", err))
		}
		args = append(args, "--script", script)
	default:
		args = append(args, "--go", cfg.GoBinary)
	}

	var files []string
	if cfg.EnvFile != "" {
		files = append(files, cfg.EnvFile)
	}
	environ, err := env.WorkerEnviron(os.Environ(), files...)
	if err != nil {
		return nil, withExitCode(ExitConfigError, err)
	}

	return &supervisor.ProcessSpawner{
		Args:   args,
		Env:    environ,
		Stdout: stderr,
		Stderr: stderr,
	}, nil
}

// newManager wires a session manager for cfg. The returned close function
// releases the history store.
func newManager(cfg *config.Config, bridge ui.Bridge, stderr io.Writer) (*session.Manager, func(), error) {
	spawner, err := newSpawner(cfg, stderr)
	if err != nil {
		return nil, nil, err
	}

	opts := []session.Option{
		session.WithLogger(slog.Default()),
		session.WithSupervisorOptions(
			supervisor.WithGracePeriod(cfg.StopGracePeriod),
			supervisor.WithProgressRate(cfg.ProgressRate),
		),
	}

	closeFn := func() {}
	if cfg.GetHistory() {
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			slog.Warn("run history disabled", "path", cfg.HistoryPath, "error", err)
		} else {
			opts = append(opts, session.WithHistory(store))
			closeFn = func() { _ = store.Close() }
		}
	}

	return session.NewManager(spawner, bridge, opts...), closeFn, nil
}
