package results

import (
	"strings"
	"time"
)

// Class is the colour class of a message shown to the user.
type Class int

const (
	ClassGood Class = iota
	ClassWarning
	ClassBad
)

func (c Class) String() string {
	switch c {
	case ClassGood:
		return "good"
	case ClassWarning:
		return "warning"
	default:
		return "bad"
	}
}

// DurationStats summarises per-stage durations reported by the worker.
type DurationStats struct {
	Count int64
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// Summary is an immutable snapshot of a run's results.
type Summary struct {
	Collected   int
	Started     int
	Outcomes    map[string]int
	HasOutcomes bool
	Output      string
	HasOutput   bool
	Bad         []string
	Durations   DurationStats

	Class Class
	Text  string
}

// Failed reports whether any outcome is outside the benign set.
func (s Summary) Failed() bool {
	return len(s.Bad) > 0
}

// Lines returns the captured report without its first and last line.
func (s Summary) Lines() []string {
	return TrimmedLines(s.Output)
}

// TrimmedLines splits text into lines and drops the first and the last.
func TrimmedLines(text string) []string {
	parts := strings.Split(text, "\n")
	if len(parts) < 3 {
		return []string{}
	}
	return parts[1 : len(parts)-1]
}
