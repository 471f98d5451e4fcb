package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is the tag carried by every event on the wire.
type Kind string

const (
	KindProtocol         Kind = "protocol"
	KindCollectionFinish Kind = "collectionfinish"
	KindStage            Kind = "stage"
	KindLogReport        Kind = "logreport"
	KindSessionFinish    Kind = "sessionfinish"
	KindStdout           Kind = "stdout"
	KindError            Kind = "error"
	KindQuit             Kind = "quit"
)

// Known reports whether k is one of the kinds defined by this package.
func (k Kind) Known() bool {
	switch k {
	case KindProtocol, KindCollectionFinish, KindStage, KindLogReport,
		KindSessionFinish, KindStdout, KindError, KindQuit:
		return true
	}
	return false
}

// Stage names used by workers.
const (
	StageSetup    = "setup"
	StageCall     = "call"
	StageTeardown = "teardown"
)

// Outcome labels that do not indicate a problem with the run.
const (
	OutcomePassed  = "passed"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomeXFailed = "xfailed"
	OutcomeXPassed = "xpassed"
	OutcomeError   = "error"
)

// Event is implemented by every event type.
type Event interface {
	Kind() Kind
}

// Location is a file and line hint used to place a marker.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

func (l Location) String() string {
	if l.Line <= 0 {
		return l.File
	}
	return l.File + ":" + strconv.Itoa(l.Line)
}

// ItemRef identifies a test item.
type ItemRef struct {
	ID       string   `json:"id"`
	Location Location `json:"location"`
}

type Protocol struct {
	Item ItemRef `json:"item"`
}

type CollectionFinish struct {
	Items []ItemRef `json:"items"`
}

type Stage struct {
	Stage string  `json:"stage"`
	Item  ItemRef `json:"item"`
}

type LogReport struct {
	ID      string `json:"id"`
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
	// Duration of the stage in seconds, zero when the worker does not report it.
	Duration float64 `json:"duration,omitempty"`
}

type SessionFinish struct {
	Outcomes map[string]int `json:"outcomes"`
}

type Stdout struct {
	Text string `json:"text"`
}

type Error struct {
	Message string `json:"message"`
}

type Quit struct{}

// Unknown carries an event whose kind is not understood by this version.
type Unknown struct {
	Name Kind
	Raw  json.RawMessage
}

func (Protocol) Kind() Kind         { return KindProtocol }
func (CollectionFinish) Kind() Kind { return KindCollectionFinish }
func (Stage) Kind() Kind            { return KindStage }
func (LogReport) Kind() Kind        { return KindLogReport }
func (SessionFinish) Kind() Kind    { return KindSessionFinish }
func (Stdout) Kind() Kind           { return KindStdout }
func (Error) Kind() Kind            { return KindError }
func (Quit) Kind() Kind             { return KindQuit }
func (u Unknown) Kind() Kind        { return u.Name }

func (e Protocol) validate() error {
	return requireID(e.Item.ID)
}

func (e CollectionFinish) validate() error {
	for i, item := range e.Items {
		if item.ID == "" {
			return fmt.Errorf("item %d has empty id", i)
		}
	}
	return nil
}

func (e Stage) validate() error {
	if e.Stage == "" {
		return fmt.Errorf("empty stage name")
	}
	return requireID(e.Item.ID)
}

func (e LogReport) validate() error {
	if e.Outcome == "" {
		return fmt.Errorf("empty outcome")
	}
	return requireID(e.ID)
}

func requireID(id string) error {
	if id == "" {
		return fmt.Errorf("empty item id")
	}
	return nil
}
