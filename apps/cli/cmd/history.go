package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/vptest/packages/history"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/ui"
)

var (
	historyLimit int
	historyShow  string
	historyPrune int
	historyJSON  bool
	historyQuery string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded test runs",
	Long: `Show the runs recorded in the history database.

Examples:
  vptest history
  vptest history --limit 5
  vptest history --show 1b4e28ba-2fa1-11d2-883f-0016d3cca427
  vptest history --prune 100
  vptest history --query '.[] | select(.class == "bad") | .path'`,
	Args: cobra.NoArgs,
	RunE: historyCommand,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", getEnvInt("VPTEST_HISTORY_LIMIT", 20), "Number of runs to list (env: VPTEST_HISTORY_LIMIT)")
	historyCmd.Flags().StringVar(&historyShow, "show", "", "Show one run with its items")
	historyCmd.Flags().IntVar(&historyPrune, "prune", -1, "Delete all but the newest N runs")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print entries as JSON")
	historyCmd.Flags().StringVarP(&historyQuery, "query", "q", "", "Filter the JSON output with a jq expression")
}

func historyCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&runFlags{})
	if err != nil {
		return err
	}
	if cfg.GetNoColor() {
		color.NoColor = true
	}

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return withExitCode(ExitConfigError, err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out := cmd.OutOrStdout()

	switch {
	case historyPrune >= 0:
		n, err := store.Prune(ctx, historyPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d run(s).\n", n)
		return nil

	case historyShow != "":
		e, err := store.Get(ctx, historyShow)
		if errors.Is(err, history.ErrNotFound) {
			return withExitCode(ExitUsageError, err)
		}
		if err != nil {
			return err
		}
		if historyQuery != "" {
			return runQuery(out, e, historyQuery)
		}
		if historyJSON {
			return writeJSON(out, e)
		}
		printEntry(out, e)
		return nil
	}

	entries, err := store.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyQuery != "" {
		return runQuery(out, entries, historyQuery)
	}
	if historyJSON {
		return writeJSON(out, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %-40s %s\n",
			shortID(e.ID), e.StartedAt.Format(time.DateTime), targetOf(e), classText(e))
	}
	return nil
}

func printEntry(w io.Writer, e history.Entry) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", bold("Run"), e.ID)
	fmt.Fprintf(w, "  Target:   %s\n", targetOf(e))
	fmt.Fprintf(w, "  Started:  %s\n", e.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration: %s\n", e.Duration)
	fmt.Fprintf(w, "  Result:   %s\n", classText(e))
	if len(e.Outcomes) > 0 {
		labels := make([]string, 0, len(e.Outcomes))
		for label := range e.Outcomes {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		parts := make([]string, 0, len(labels))
		for _, label := range labels {
			parts = append(parts, fmt.Sprintf("%d %s", e.Outcomes[label], label))
		}
		fmt.Fprintf(w, "  Outcomes: %s\n", strings.Join(parts, ", "))
	}
	if e.WorkerError != "" {
		fmt.Fprintf(w, "  Error:    %s\n", e.WorkerError)
	}
	if len(e.Items) > 0 {
		fmt.Fprintln(w)
	}
	for _, it := range e.Items {
		fmt.Fprintf(w, "  %s %s (%s:%d)\n", ui.MarkerSymbol(registry.State(it.State)), it.ID, it.File, it.Line)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func targetOf(e history.Entry) string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	return e.Path
}

func classText(e history.Entry) string {
	text := e.Summary
	if e.Cancelled {
		text += " (stopped)"
	}
	switch e.Class {
	case "good":
		return color.GreenString(text)
	case "warning":
		return color.YellowString(text)
	default:
		return color.RedString(text)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runQuery evaluates a jq expression against v and prints every result.
func runQuery(w io.Writer, v any, expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return withExitCode(ExitUsageError, fmt.Errorf("failed to parse query %s: %w", expr, err))
	}

	// gojq only understands plain JSON values.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	iter := query.Run(doc)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := result.(error); ok {
			return fmt.Errorf("error evaluating query %s: %w", expr, err)
		}
		if err := writeJSON(w, result); err != nil {
			return err
		}
	}
}
