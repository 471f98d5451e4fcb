package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/vptest/packages/session"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
)

var shellFl runFlags

var shellCmd = &cobra.Command{
	Use:   "shell [file]",
	Short: "Interactive loop for editor-style test commands",
	Long: `Read commands from stdin and run them against a long-lived session.

Commands:
  open <path>             Remember a file for later commands
  file [path]             Run every test in path, or in the open file
  function [path] <line>  Run the test enclosing line
  toggle                  Show or hide the report of the last run
  stop                    Stop the active run
  nosigns                 Remove all markers
  markers                 Print the current markers
  help                    Show this help
  quit                    Stop any active run and exit

Ctrl+C stops the active run without leaving the shell.`,
	Args: cobra.MaximumNArgs(1),
	RunE: shellCommand,
}

func init() {
	shellFl.register(shellCmd)
}

func shellCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&shellFl)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	term := ui.NewTerminal(
		ui.WithWriter(stdout),
		ui.WithErrorWriter(cmd.ErrOrStderr()),
		ui.WithNoColor(cfg.GetNoColor()),
		ui.WithMaxSplitSize(cfg.MaxSplitSize),
	)
	queue := ui.NewQueue(term)
	defer queue.Close()

	mgr, closeStore, err := newManager(cfg, queue, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeStore()

	sh := &shell{out: stdout, mgr: mgr, queue: queue, term: term}
	if len(args) == 1 {
		sh.file = args[0]
	}
	return sh.loop(cmd.Context(), cmd.InOrStdin())
}

type shell struct {
	out   io.Writer
	mgr   *session.Manager
	queue *ui.Queue
	term  *ui.Terminal
	// file is the path used when a command omits it.
	file string
}

func (s *shell) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	s.prompt()
	for {
		select {
		case <-s.queue.Notify():
			s.queue.Drain()

		case <-sigs:
			if s.mgr.Current() == nil {
				fmt.Fprintln(s.out, "\nNo test run is active. Type quit to exit.")
				s.prompt()
				continue
			}
			go func() { _ = s.mgr.Dispatch(ctx, "stop") }()

		case line, ok := <-lines:
			if !ok {
				s.shutdown()
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				s.shutdown()
				return nil
			}
			s.prompt()

		case <-ctx.Done():
			s.shutdown()
			return nil
		}
	}
}

// handle runs one command line and reports whether the shell should exit.
func (s *shell) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "quit", "exit":
		return true
	case "help":
		fmt.Fprintln(s.out, "Commands: open, file, function, toggle, stop, nosigns, markers, help, quit")
	case "open":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "usage: open <path>")
			return false
		}
		s.file = args[0]
	case "markers":
		s.queue.Drain()
		s.term.PrintMarkers()
	case "file":
		if len(args) == 0 && s.file != "" {
			args = []string{s.file}
		}
		s.dispatchAsync(ctx, name, args)
	case "function":
		if len(args) == 1 && s.file != "" {
			args = []string{s.file, args[0]}
		}
		s.dispatchAsync(ctx, name, args)
	case "stop":
		s.dispatchAsync(ctx, name, args)
	default:
		// toggle, nosigns and unknown names are answered by the manager.
		_ = s.mgr.Dispatch(ctx, name, args...)
		s.queue.Drain()
	}
	return false
}

// dispatchAsync runs commands that may wait on a worker off the UI
// goroutine, so queued progress keeps flowing.
func (s *shell) dispatchAsync(ctx context.Context, name string, args []string) {
	go func() { _ = s.mgr.Dispatch(ctx, name, args...) }()
}

func (s *shell) shutdown() {
	if s.mgr.Current() != nil {
		_ = s.mgr.StopActiveRun(context.Background())
	}
	<-s.mgr.Supervisor().Done()
	s.queue.Drain()
}

func (s *shell) prompt() {
	fmt.Fprint(s.out, "vptest> ")
}
