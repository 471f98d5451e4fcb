package results

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

const (
	// Durations are recorded in microseconds between 1us and one hour.
	minDurationUs = 1
	maxDurationUs = int64(time.Hour / time.Microsecond)
)

// benign lists the outcome labels that do not require the user's attention.
var benign = map[string]bool{
	protocol.OutcomePassed:  true,
	protocol.OutcomeSkipped: true,
	protocol.OutcomeXFailed: true,
	protocol.OutcomeXPassed: true,
}

// labelOrder is the display order for well-known labels; others follow
// alphabetically.
var labelOrder = []string{
	protocol.OutcomePassed,
	protocol.OutcomeFailed,
	protocol.OutcomeError,
	protocol.OutcomeSkipped,
	protocol.OutcomeXFailed,
	protocol.OutcomeXPassed,
}

// IsBenign reports whether outcome is in the accepted set.
func IsBenign(outcome string) bool {
	return benign[outcome]
}

// Aggregator collects the results of one run. It is safe for concurrent use.
type Aggregator struct {
	mu sync.Mutex

	collected   int
	started     int
	outcomes    map[string]int
	hasOutcomes bool
	output      string
	hasOutput   bool
	durations   *hdrhistogram.Histogram
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{
		durations: hdrhistogram.New(minDurationUs, maxDurationUs, 3),
	}
}

// Reset discards everything recorded so far.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.collected = 0
	a.started = 0
	a.outcomes = nil
	a.hasOutcomes = false
	a.output = ""
	a.hasOutput = false
	a.durations.Reset()
}

// Collected records the number of discovered items. The count never
// decreases.
func (a *Aggregator) Collected(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > a.collected {
		a.collected = n
	}
}

// Protocol counts one started item and returns the started and collected
// counts.
func (a *Aggregator) Protocol() (started, collected int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started++
	return a.started, a.collected
}

// Duration records how long one item stage took.
func (a *Aggregator) Duration(seconds float64) {
	if seconds <= 0 {
		return
	}
	us := int64(seconds * float64(time.Second/time.Microsecond))
	if us < minDurationUs {
		us = minDurationUs
	}
	if us > maxDurationUs {
		us = maxDurationUs
	}

	a.mu.Lock()
	_ = a.durations.RecordValue(us)
	a.mu.Unlock()
}

// SessionFinish records the outcome mapping verbatim. A later call replaces
// an earlier one.
func (a *Aggregator) SessionFinish(outcomes map[string]int) {
	copied := make(map[string]int, len(outcomes))
	for k, v := range outcomes {
		copied[k] = v
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes = copied
	a.hasOutcomes = true
}

// Stdout records the captured report. Only the first call has an effect;
// it returns false when output was already recorded.
func (a *Aggregator) Stdout(text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasOutput {
		return false
	}
	a.output = text
	a.hasOutput = true
	return true
}

// Started returns the number of protocol events seen.
func (a *Aggregator) Started() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// Outcomes returns a copy of the recorded outcomes and whether a session
// summary was received at all.
func (a *Aggregator) Outcomes() (map[string]int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasOutcomes {
		return nil, false
	}
	copied := make(map[string]int, len(a.outcomes))
	for k, v := range a.outcomes {
		copied[k] = v
	}
	return copied, true
}

// BadOutcomes returns the sorted outcome labels outside the benign set.
func (a *Aggregator) BadOutcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return badOutcomes(a.outcomes)
}

// Output returns the captured report and whether one was received.
func (a *Aggregator) Output() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.output, a.hasOutput
}

// Summary returns a snapshot of the run.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Collected:   a.collected,
		Started:     a.started,
		HasOutcomes: a.hasOutcomes,
		Output:      a.output,
		HasOutput:   a.hasOutput,
		Bad:         badOutcomes(a.outcomes),
	}
	if a.hasOutcomes {
		s.Outcomes = make(map[string]int, len(a.outcomes))
		for k, v := range a.outcomes {
			s.Outcomes[k] = v
		}
	}
	if count := a.durations.TotalCount(); count > 0 {
		s.Durations = DurationStats{
			Count: count,
			P50:   time.Duration(a.durations.ValueAtQuantile(50)) * time.Microsecond,
			P95:   time.Duration(a.durations.ValueAtQuantile(95)) * time.Microsecond,
			Max:   time.Duration(a.durations.Max()) * time.Microsecond,
		}
	}
	s.Class, s.Text = classify(s)
	return s
}

func badOutcomes(outcomes map[string]int) []string {
	var bad []string
	for label := range outcomes {
		if !benign[label] {
			bad = append(bad, label)
		}
	}
	sort.Strings(bad)
	return bad
}

func classify(s Summary) (Class, string) {
	if s.Started == 0 {
		return ClassWarning, "No tests found."
	}

	allPassed := true
	for label := range s.Outcomes {
		if label != protocol.OutcomePassed {
			allPassed = false
		}
	}

	class := ClassBad
	switch {
	case len(s.Bad) > 0:
	case allPassed:
		class = ClassGood
	default:
		class = ClassWarning
	}

	if !s.HasOutcomes {
		return class, fmt.Sprintf("%d tests done: no outcomes reported", s.Started)
	}
	return class, fmt.Sprintf("%d tests done: %s", s.Started, FormatOutcomes(s.Outcomes))
}

// FormatOutcomes renders outcomes as "1 passed, 2 failed" in a stable order.
func FormatOutcomes(outcomes map[string]int) string {
	parts := make([]string, 0, len(outcomes))
	for _, label := range SortedLabels(outcomes) {
		parts = append(parts, fmt.Sprintf("%d %s", outcomes[label], label))
	}
	return strings.Join(parts, ", ")
}

// SortedLabels returns the labels of outcomes, well-known labels first.
func SortedLabels(outcomes map[string]int) []string {
	labels := make([]string, 0, len(outcomes))
	seen := make(map[string]bool, len(outcomes))
	for _, label := range labelOrder {
		if _, ok := outcomes[label]; ok {
			labels = append(labels, label)
			seen[label] = true
		}
	}
	var rest []string
	for label := range outcomes {
		if !seen[label] {
			rest = append(rest, label)
		}
	}
	sort.Strings(rest)
	return append(labels, rest...)
}
