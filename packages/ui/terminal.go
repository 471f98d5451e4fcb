package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/abdul-hamid-achik/vptest/packages/protocol"
	"github.com/abdul-hamid-achik/vptest/packages/registry"
	"github.com/abdul-hamid-achik/vptest/packages/results"
	"github.com/fatih/color"
)

// DefaultMaxSplitSize is the default number of report lines shown at once.
const DefaultMaxSplitSize = 20

type terminalMarker struct {
	id    string
	loc   protocol.Location
	state registry.State
}

// Terminal is a Bridge that writes to a terminal. It is meant to be driven
// from a single goroutine, normally through a Queue.
type Terminal struct {
	writer       io.Writer
	errWriter    io.Writer
	noColor      bool
	maxSplitSize int

	visible bool
	lines   []string

	order   []string
	markers map[string]*terminalMarker
}

type TerminalOption func(*Terminal)

var (
	_ Bridge = (*Terminal)(nil)
	_ Viewer = (*Terminal)(nil)
)

func NewTerminal(opts ...TerminalOption) *Terminal {
	t := &Terminal{
		writer:       os.Stdout,
		errWriter:    os.Stderr,
		maxSplitSize: DefaultMaxSplitSize,
		markers:      make(map[string]*terminalMarker),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.noColor {
		color.NoColor = true
	}
	return t
}

func WithWriter(w io.Writer) TerminalOption {
	return func(t *Terminal) {
		t.writer = w
	}
}

func WithErrorWriter(w io.Writer) TerminalOption {
	return func(t *Terminal) {
		t.errWriter = w
	}
}

func WithNoColor(nc bool) TerminalOption {
	return func(t *Terminal) {
		t.noColor = nc
	}
}

// WithMaxSplitSize caps how many report lines are printed when the results
// view opens. Zero or less prints everything.
func WithMaxSplitSize(n int) TerminalOption {
	return func(t *Terminal) {
		t.maxSplitSize = n
	}
}

func (t *Terminal) Echo(text string) {
	fmt.Fprintln(t.writer, text)
}

func (t *Terminal) EchoClassified(text string, class results.Class) {
	fmt.Fprintln(t.writer, classColor(class).Sprint(text))
}

func (t *Terminal) Error(text string) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(t.errWriter, "%s %s\n", red("VP:"), text)
}

func (t *Terminal) PresentOutputLines(lines []string) {
	t.lines = append([]string(nil), lines...)
	t.visible = true

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(t.writer, "\n%s\n", bold("Results"))

	shown := t.lines
	if t.maxSplitSize > 0 && len(shown) > t.maxSplitSize {
		shown = shown[:t.maxSplitSize]
	}
	for _, line := range shown {
		fmt.Fprintf(t.writer, "  %s\n", line)
	}
	if hidden := len(t.lines) - len(shown); hidden > 0 {
		fmt.Fprintf(t.writer, "  ... %d more lines\n", hidden)
	}
	fmt.Fprintln(t.writer)
}

func (t *Terminal) ClearPresentedOutput() {
	t.lines = nil
	t.visible = false
}

// ResultsVisible reports whether the results view is open.
func (t *Terminal) ResultsVisible() bool {
	return t.visible
}

// PresentedLines returns the lines of the open results view.
func (t *Terminal) PresentedLines() []string {
	return append([]string(nil), t.lines...)
}

func (t *Terminal) PlaceMarker(id string, loc protocol.Location) {
	if m, ok := t.markers[id]; ok {
		m.loc = loc
		return
	}
	t.markers[id] = &terminalMarker{id: id, loc: loc, state: registry.StateCollected}
	t.order = append(t.order, id)
}

func (t *Terminal) SetMarkerState(id string, state registry.State) {
	if m, ok := t.markers[id]; ok {
		m.state = state
	}
}

func (t *Terminal) RemoveAllMarkers() {
	t.order = nil
	t.markers = make(map[string]*terminalMarker)
}

// PrintMarkers writes one line per marker in placement order.
func (t *Terminal) PrintMarkers() {
	if len(t.order) == 0 {
		fmt.Fprintln(t.writer, "No markers.")
		return
	}
	for _, id := range t.order {
		m := t.markers[id]
		fmt.Fprintf(t.writer, "  %s %s %s\n", MarkerSymbol(m.state), m.id, color.New(color.FgCyan).Sprint("("+m.loc.String()+")"))
	}
}

// MarkerSymbol returns the colored glyph used for state.
func MarkerSymbol(state registry.State) string {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	switch {
	case state == registry.StateCollected:
		return "·"
	case state.IsStage():
		return cyan(stageGlyph(strings.TrimPrefix(string(state), "stage_")))
	}

	switch state.Outcome() {
	case protocol.OutcomePassed:
		return green("✓")
	case protocol.OutcomeSkipped:
		return yellow("-")
	case protocol.OutcomeXFailed, protocol.OutcomeXPassed:
		return yellow("x")
	default:
		return red("✗")
	}
}

func stageGlyph(stage string) string {
	switch stage {
	case protocol.StageSetup:
		return "↓"
	case protocol.StageTeardown:
		return "↑"
	default:
		return "▶"
	}
}

func classColor(class results.Class) *color.Color {
	switch class {
	case results.ClassGood:
		return color.New(color.FgGreen)
	case results.ClassWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
