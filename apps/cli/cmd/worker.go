package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/core/config"
	"github.com/abdul-hamid-achik/vptest/packages/worker"
)

var (
	workerKind   string
	workerPath   string
	workerLine   int
	workerScript string
	workerGo     string
)

// workerCmd is started by the supervisor with the channel on fds 3 and 4.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run tests and report events to a supervising vptest process",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   workerCommand,
}

func init() {
	workerCmd.Flags().StringVar(&workerKind, "kind", config.WorkerGoTest, "Worker kind")
	workerCmd.Flags().StringVar(&workerPath, "path", "", "Target file or directory")
	workerCmd.Flags().IntVar(&workerLine, "line", 0, "Target line")
	workerCmd.Flags().StringVar(&workerScript, "script", "", "Event script")
	workerCmd.Flags().StringVar(&workerGo, "go", "go", "Go command")
}

func workerCommand(cmd *cobra.Command, args []string) error {
	conn, err := channel.FromInheritedFiles()
	if err != nil {
		return withExitCode(ExitUsageError, fmt.Errorf("worker must be started by vptest: %w", err))
	}
	defer conn.Close()

	var run worker.Func
	switch workerKind {
	case config.WorkerScript:
		script, err := worker.LoadScript(workerScript)
		if err != nil {
			_ = worker.NewEmitter(conn).Error(err.Error())
			return withExitCode(ExitWorkerError, err)
		}
		run = script.Run
	case config.WorkerGoTest:
		g := &worker.GoTest{Binary: workerGo, WaitDelay: 10 * time.Second, Logger: slog.Default()}
		run = g.Run
	default:
		err := fmt.Errorf("unknown worker kind %q", workerKind)
		_ = worker.NewEmitter(conn).Error(err.Error())
		return withExitCode(ExitUsageError, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	target := worker.Target{Path: workerPath, Line: workerLine}
	if err := run(ctx, target, conn); err != nil && !errors.Is(err, ctx.Err()) {
		slog.Error("worker failed", "target", target.String(), "error", err)
		return withExitCode(ExitWorkerError, err)
	}
	return nil
}
