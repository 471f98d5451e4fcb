package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/vptest/packages/core/config"
	"github.com/abdul-hamid-achik/vptest/packages/core/supervisor"
	"github.com/abdul-hamid-achik/vptest/packages/output"
	"github.com/abdul-hamid-achik/vptest/packages/session"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
)

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	lineFlag       int
	watchFlag      bool
	outputFlag     string
	outputFileFlag string
	verboseFlag    bool
	runFl          runFlags
)

var runCmd = &cobra.Command{
	Use:   "run <file|directory>",
	Short: "Run the tests of a file, or the test under a line",
	Long: `Run the tests of a Go test file in a supervised worker process.

With --line only the test enclosing that line runs. Progress and markers are
printed to stderr while the run is in flight; the final report goes to stdout
or --output-file in the chosen format.

Press Ctrl+C once to stop the run and keep its partial results, twice to
abort.

Examples:
  vptest run ./pkg/foo/foo_test.go
  vptest run ./pkg/foo/foo_test.go --line 42
  vptest run ./pkg/foo --watch
  vptest run foo_test.go -o junit --output-file report.xml
  vptest run demo.http --worker script --script events.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

func init() {
	runCmd.Flags().IntVarP(&lineFlag, "line", "l", 0, "Run only the test enclosing this line")
	runCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch files for changes and re-run tests")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("VPTEST_OUTPUT", ""), "Output format: "+strings.Join(output.Formats, ", ")+" (env: VPTEST_OUTPUT)")
	runCmd.Flags().StringVar(&outputFileFlag, "output-file", getEnvString("VPTEST_OUTPUT_FILE", ""), "Write the report to a file (env: VPTEST_OUTPUT_FILE)")
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("VPTEST_VERBOSE", false), "Also print the report of passing runs (env: VPTEST_VERBOSE)")
	runFl.register(runCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&runFl)
	if err != nil {
		return err
	}
	if outputFlag != "" {
		cfg.Output = outputFlag
	}
	if lineFlag < 0 {
		return withExitCode(ExitUsageError, fmt.Errorf("invalid line %d", lineFlag))
	}

	path := args[0]
	if _, err := os.Stat(path); err != nil {
		return withExitCode(ExitUsageError, fmt.Errorf("cannot access %s: %w", path, err))
	}
	target := supervisor.Target{Path: path, Line: lineFlag}

	stderr := cmd.ErrOrStderr()
	term := ui.NewTerminal(
		ui.WithWriter(stderr),
		ui.WithErrorWriter(stderr),
		ui.WithNoColor(cfg.GetNoColor()),
		ui.WithMaxSplitSize(cfg.MaxSplitSize),
	)
	queue := ui.NewQueue(term)
	defer queue.Close()

	mgr, closeStore, err := newManager(cfg, queue, stderr)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &cliRun{cmd: cmd, cfg: cfg, mgr: mgr, queue: queue, stopSignals: stop}
	report, err := r.once(ctx, target)
	if err != nil {
		return err
	}

	if !watchFlag {
		if code := exitCodeFor(report); code != ExitSuccess {
			return withExitCode(code, nil)
		}
		return nil
	}
	return r.watch(ctx, target)
}

// cliRun drives one or more runs from the command line. Bridge calls are
// posted by the supervisor goroutine and drained here.
type cliRun struct {
	cmd         *cobra.Command
	cfg         *config.Config
	mgr         *session.Manager
	queue       *ui.Queue
	stopSignals context.CancelFunc
}

// once runs target to completion and writes the report.
func (r *cliRun) once(ctx context.Context, target supervisor.Target) (supervisor.Report, error) {
	w, closeOut, err := r.openOutput()
	if err != nil {
		return supervisor.Report{}, err
	}
	defer closeOut()

	formatter, err := r.newFormatter(w)
	if err != nil {
		return supervisor.Report{}, withExitCode(ExitUsageError, err)
	}

	start := time.Now()
	if _, err := r.mgr.RunAtCursor(ctx, target.Path, target.Line); err != nil {
		formatter.FormatError(err)
		if f, ok := formatter.(output.Flushable); ok {
			_ = f.Flush(time.Since(start))
		}
		var spawnErr *supervisor.SpawnError
		if errors.As(err, &spawnErr) {
			return supervisor.Report{}, withExitCode(ExitSpawnError, nil)
		}
		return supervisor.Report{}, err
	}

	report := r.drainUntilDone(ctx)
	formatter.FormatRun(toOutputRun(report))
	if f, ok := formatter.(output.Flushable); ok {
		if err := f.Flush(time.Since(start)); err != nil {
			return report, fmt.Errorf("writing report: %w", err)
		}
	}
	return report, nil
}

// drainUntilDone runs queued UI calls until the active run finishes. The
// first interrupt stops the run; signal handling is then restored so a
// second one ends the process.
func (r *cliRun) drainUntilDone(ctx context.Context) supervisor.Report {
	done := r.mgr.Supervisor().Done()
	interrupted := ctx.Done()
	for {
		select {
		case <-r.queue.Notify():
			r.queue.Drain()
		case <-interrupted:
			interrupted = nil
			r.stopSignals()
			go func() {
				if err := r.mgr.StopActiveRun(context.Background()); err != nil {
					slog.Debug("stop after interrupt", "error", err)
				}
			}()
		case <-done:
			r.queue.Drain()
			if last := r.mgr.Last(); last != nil && last.Report != nil {
				return *last.Report
			}
			report, _ := r.mgr.Supervisor().LastReport()
			return report
		}
	}
}

// newFormatter builds a fresh formatter per run, since the buffered ones
// keep state until Flush.
func (r *cliRun) newFormatter(w io.Writer) (output.Formatter, error) {
	if strings.EqualFold(r.cfg.Output, "console") || r.cfg.Output == "" {
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(verboseFlag),
			output.WithNoColor(r.cfg.GetNoColor()),
		), nil
	}
	return output.New(r.cfg.Output, w, r.cfg.GetNoColor())
}

func (r *cliRun) openOutput() (io.Writer, func(), error) {
	if outputFileFlag == "" {
		return r.cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(outputFileFlag)
	if err != nil {
		return nil, nil, withExitCode(ExitUsageError, fmt.Errorf("creating output file: %w", err))
	}
	return f, func() { _ = f.Close() }, nil
}

func (r *cliRun) watch(ctx context.Context, target supervisor.Target) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range watchDirs(target.Path) {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("failed to watch directory", "dir", dir, "error", err)
		}
	}

	out := r.cmd.ErrOrStderr()
	fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	// Debounce timer for rapid file changes
	var debounceTimer *time.Timer
	rerun := make(chan string, 1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case <-r.queue.Notify():
			r.queue.Drain()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isWatchedChange(event) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				select {
				case rerun <- name:
				default:
				}
			})

		case name := <-rerun:
			fmt.Fprintf(out, "\nFile changed: %s\nRe-running tests...\n\n", name)
			if _, err := r.once(ctx, target); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "\nWatching for changes... (press Ctrl+C to stop)\n")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// watchDirs returns the directories to watch for target: its own
// directory, or every directory below it when target is a directory.
func watchDirs(target string) []string {
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return []string{filepath.Dir(target)}
	}
	var dirs []string
	_ = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != target && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

func isWatchedChange(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return strings.HasSuffix(event.Name, ".go")
}

func toOutputRun(r supervisor.Report) output.Run {
	run := output.Run{
		Target:    r.Target.String(),
		Summary:   r.Summary,
		Markers:   r.Markers,
		Duration:  r.Duration(),
		Cancelled: r.Cancelled,
	}
	if r.WorkerErr != nil {
		run.WorkerError = r.WorkerErr.Message
	}
	return run
}

func exitCodeFor(r supervisor.Report) int {
	switch {
	case r.Cancelled:
		return ExitInterrupted
	case r.WorkerErr != nil:
		return ExitWorkerError
	case r.Summary.Failed():
		return ExitTestFailure
	}
	return ExitSuccess
}
