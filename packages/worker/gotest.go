package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

// test2json actions.
const (
	actionRun    = "run"
	actionPass   = "pass"
	actionFail   = "fail"
	actionSkip   = "skip"
	actionOutput = "output"
)

var testFuncPattern = regexp.MustCompile(`^(Test|Example)([^a-z].*)?$`)

// testEvent is one line of `go test -json` output.
type testEvent struct {
	Time    time.Time
	Action  string
	Package string
	Test    string
	Elapsed float64
	Output  string
}

// GoTest runs the Go tests found in the target file, or in the whole
// package when the target is a directory.
type GoTest struct {
	// Binary is the go command, "go" when empty.
	Binary string
	// WaitDelay bounds how long go test may run after being interrupted.
	WaitDelay time.Duration
	Logger    *slog.Logger
}

// TestFunc is a test function found in a _test.go file.
type TestFunc struct {
	Ref       protocol.ItemRef
	Name      string
	StartLine int
	EndLine   int
}

// Run collects, runs and reports the tests for target.
func (g *GoTest) Run(ctx context.Context, target Target, conn *channel.Conn) error {
	em := NewEmitter(conn)
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir, items, err := CollectGoTests(target.Path)
	if err != nil {
		return em.Error(err.Error())
	}
	if target.Line > 0 {
		items = narrowToLine(items, target.Line)
	}

	refs := make([]protocol.ItemRef, len(items))
	byName := make(map[string]TestFunc, len(items))
	for i, it := range items {
		refs[i] = it.Ref
		byName[it.Name] = it
	}
	if err := em.CollectionFinish(refs); err != nil {
		return err
	}
	if len(items) == 0 {
		if err := em.SessionFinish(map[string]int{}); err != nil {
			return err
		}
		return em.Stdout("go test\nno tests to run\n")
	}

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = regexp.QuoteMeta(it.Name)
	}
	pattern := "^(" + strings.Join(names, "|") + ")$"

	binary := g.Binary
	if binary == "" {
		binary = "go"
	}
	cmd := exec.CommandContext(ctx, binary, "test", "-json", "-count=1", "-run", pattern, ".")
	cmd.Dir = dir
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return interruptGroup(cmd) }
	cmd.WaitDelay = g.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 10 * time.Second
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return em.Error(fmt.Sprintf("go test: %v", err))
	}

	start := time.Now()
	logger.Debug("starting go test", "dir", dir, "run", pattern)
	if err := cmd.Start(); err != nil {
		return em.Error(fmt.Sprintf("go test: %v", err))
	}

	var out strings.Builder
	fmt.Fprintf(&out, "go test -run %s %s\n", pattern, dir)
	outcomes := make(map[string]int)
	reported := 0

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), channel.MaxFrameSize)
	for scanner.Scan() {
		var ev testEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			out.WriteString(scanner.Text())
			out.WriteByte('\n')
			continue
		}
		if ev.Action == actionOutput {
			out.WriteString(ev.Output)
			continue
		}
		it, ok := byName[ev.Test]
		if !ok {
			continue
		}
		switch ev.Action {
		case actionRun:
			if err := em.Protocol(it.Ref); err != nil {
				return err
			}
			if err := em.Stage(protocol.StageCall, it.Ref); err != nil {
				return err
			}
		case actionPass, actionFail, actionSkip:
			outcome := outcomeFor(ev.Action)
			outcomes[outcome]++
			reported++
			if err := em.LogReport(it.Ref.ID, protocol.StageCall, outcome, ev.Elapsed); err != nil {
				return err
			}
		}
	}
	waitErr := cmd.Wait()
	// Nothing of the run may outlive the worker, not even a test binary
	// that ignored the interrupt.
	killGroup(cmd)
	if scanErr := scanner.Err(); scanErr != nil {
		logger.Warn("reading go test output", "error", scanErr)
	}

	interrupted := ctx.Err() != nil
	if reported == 0 && waitErr != nil && !interrupted {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return em.Error("go test: " + lastLine(msg))
	}

	if stderr.Len() > 0 {
		out.Write(stderr.Bytes())
	}
	footer := fmt.Sprintf("%s in %.2fs", formatCounts(outcomes), time.Since(start).Seconds())
	if interrupted {
		footer += " (interrupted)"
	}
	out.WriteString(footer)
	out.WriteByte('\n')

	if err := em.SessionFinish(outcomes); err != nil {
		return err
	}
	return em.Stdout(out.String())
}

// CollectGoTests returns the package directory for path and the test
// functions declared in it. A file path restricts the result to that file.
func CollectGoTests(path string) (string, []TestFunc, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", nil, fmt.Errorf("collecting tests: %w", err)
	}

	dir := path
	var files []string
	if info.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*_test.go"))
		if err != nil {
			return "", nil, fmt.Errorf("collecting tests: %w", err)
		}
		files = matches
	} else {
		if !strings.HasSuffix(path, "_test.go") {
			return "", nil, fmt.Errorf("collecting tests: %s is not a Go test file", path)
		}
		dir = filepath.Dir(path)
		files = []string{path}
	}
	sort.Strings(files)

	fset := token.NewFileSet()
	var items []TestFunc
	for _, file := range files {
		f, err := parser.ParseFile(fset, file, nil, parser.SkipObjectResolution)
		if err != nil {
			return "", nil, fmt.Errorf("collecting tests: %w", err)
		}
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !isTestFunc(fn.Name.Name) {
				continue
			}
			start := fset.Position(fn.Pos()).Line
			items = append(items, TestFunc{
				Ref: protocol.ItemRef{
					ID:       filepath.Base(file) + "::" + fn.Name.Name,
					Location: protocol.Location{File: file, Line: start},
				},
				Name:      fn.Name.Name,
				StartLine: start,
				EndLine:   fset.Position(fn.End()).Line,
			})
		}
	}
	return dir, items, nil
}

// narrowToLine keeps the test enclosing line, or everything when no test
// encloses it.
func narrowToLine(items []TestFunc, line int) []TestFunc {
	for _, it := range items {
		if line >= it.StartLine && line <= it.EndLine {
			return []TestFunc{it}
		}
	}
	return items
}

func isTestFunc(name string) bool {
	return name != "TestMain" && testFuncPattern.MatchString(name)
}

func outcomeFor(action string) string {
	switch action {
	case actionPass:
		return protocol.OutcomePassed
	case actionSkip:
		return protocol.OutcomeSkipped
	default:
		return protocol.OutcomeFailed
	}
}

func formatCounts(outcomes map[string]int) string {
	if len(outcomes) == 0 {
		return "no tests ran"
	}
	labels := make([]string, 0, len(outcomes))
	for l := range outcomes {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%d %s", outcomes[l], l)
	}
	return strings.Join(parts, ", ")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
