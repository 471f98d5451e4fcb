package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abdul-hamid-achik/vptest/packages/channel"
	"github.com/abdul-hamid-achik/vptest/packages/protocol"
)

// Script is a recorded event sequence replayed by the script worker.
//
//	steps:
//	  - collectionfinish: [{id: t.go::TestA, file: t.go, line: 3}]
//	  - protocol: t.go::TestA
//	  - stage: {stage: call, id: t.go::TestA}
//	  - logreport: {id: t.go::TestA, stage: call, outcome: passed}
//	  - sessionfinish: {passed: 1}
//	  - stdout: "header\nok\nfooter"
//	on_interrupt:
//	  - error: interrupted
//
// Steps run in order. When the context is canceled the remaining steps are
// skipped and OnInterrupt runs instead.
type Script struct {
	Steps       []Step `yaml:"steps"`
	OnInterrupt []Step `yaml:"on_interrupt,omitempty"`
}

// Step is one entry of a Script. Exactly one field is expected to be set.
type Step struct {
	CollectionFinish *[]ScriptItem  `yaml:"collectionfinish,omitempty"`
	Protocol         string         `yaml:"protocol,omitempty"`
	Stage            *StageStep     `yaml:"stage,omitempty"`
	LogReport        *LogReportStep `yaml:"logreport,omitempty"`
	SessionFinish    map[string]int `yaml:"sessionfinish,omitempty"`
	Stdout           *string        `yaml:"stdout,omitempty"`
	Error            string         `yaml:"error,omitempty"`
	Raw              *RawStep       `yaml:"raw,omitempty"`
	Quit             bool           `yaml:"quit,omitempty"`

	Sleep time.Duration `yaml:"sleep,omitempty"`
	// WaitInterrupt blocks until the run is interrupted.
	WaitInterrupt bool `yaml:"wait_interrupt,omitempty"`
}

type ScriptItem struct {
	ID   string `yaml:"id"`
	File string `yaml:"file"`
	Line int    `yaml:"line"`
}

type StageStep struct {
	Stage string `yaml:"stage"`
	ID    string `yaml:"id"`
}

type LogReportStep struct {
	ID       string  `yaml:"id"`
	Stage    string  `yaml:"stage"`
	Outcome  string  `yaml:"outcome"`
	Duration float64 `yaml:"duration"`
}

// RawStep sends an event as-is, bypassing ordering checks.
type RawStep struct {
	Kind    string         `yaml:"kind"`
	Payload map[string]any `yaml:"payload"`
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("parsing script: no steps")
	}
	return &s, nil
}

// LoadScript reads and decodes a YAML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(data)
}

// Run replays the script over conn. The target is not used to select
// events; it is only reported by the worker command.
func (s *Script) Run(ctx context.Context, _ Target, conn *channel.Conn) error {
	em := NewEmitter(conn)
	items := make(map[string]protocol.ItemRef)

	for _, step := range s.Steps {
		if ctx.Err() != nil {
			return s.interrupted(em, items)
		}
		if err := s.play(ctx, em, items, step); err != nil {
			if ctx.Err() != nil {
				return s.interrupted(em, items)
			}
			return err
		}
	}
	return nil
}

func (s *Script) interrupted(em *Emitter, items map[string]protocol.ItemRef) error {
	for _, step := range s.OnInterrupt {
		if err := s.play(context.Background(), em, items, step); err != nil {
			return err
		}
	}
	return context.Canceled
}

func (s *Script) play(ctx context.Context, em *Emitter, items map[string]protocol.ItemRef, step Step) error {
	lookup := func(id string) protocol.ItemRef {
		if ref, ok := items[id]; ok {
			return ref
		}
		return protocol.ItemRef{ID: id}
	}

	switch {
	case step.CollectionFinish != nil:
		refs := make([]protocol.ItemRef, 0, len(*step.CollectionFinish))
		for _, it := range *step.CollectionFinish {
			ref := protocol.ItemRef{ID: it.ID, Location: protocol.Location{File: it.File, Line: it.Line}}
			items[it.ID] = ref
			refs = append(refs, ref)
		}
		return em.CollectionFinish(refs)
	case step.Protocol != "":
		return em.Protocol(lookup(step.Protocol))
	case step.Stage != nil:
		return em.Stage(step.Stage.Stage, lookup(step.Stage.ID))
	case step.LogReport != nil:
		r := step.LogReport
		return em.LogReport(r.ID, r.Stage, r.Outcome, r.Duration)
	case step.SessionFinish != nil:
		return em.SessionFinish(step.SessionFinish)
	case step.Stdout != nil:
		return em.Stdout(*step.Stdout)
	case step.Error != "":
		return em.Error(step.Error)
	case step.Raw != nil:
		var raw json.RawMessage
		if step.Raw.Payload != nil {
			b, err := json.Marshal(step.Raw.Payload)
			if err != nil {
				return fmt.Errorf("encoding raw payload: %w", err)
			}
			raw = b
		}
		return em.Raw(protocol.Unknown{Name: protocol.Kind(step.Raw.Kind), Raw: raw})
	case step.Quit:
		return em.Quit()
	case step.Sleep > 0:
		t := time.NewTimer(step.Sleep)
		defer t.Stop()
		select {
		case <-t.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case step.WaitInterrupt:
		<-ctx.Done()
		return ctx.Err()
	}
	return fmt.Errorf("script step has no action")
}
