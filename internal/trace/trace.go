// Package trace records the logical outcome of a packaging run as a
// canonical JSON document.
//
// A trace captures decisions, not timings: which stages completed, which
// failed, and whether the roster fell back to the placeholder. Timestamps
// and durations are deliberately absent so two runs over the same inputs
// produce identical trace bytes.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventKind is the stable discriminator for Event. The string values are
// part of the trace's canonical bytes; do not rename.
type EventKind string

const (
	EventStageCompleted    EventKind = "StageCompleted"
	EventStageFailed       EventKind = "StageFailed"
	EventStageSkipped      EventKind = "StageSkipped"
	EventRosterPlaceholder EventKind = "RosterPlaceholder"
)

// Event is a single logical outcome.
//
// Detail carries a stable reason code (for example the failing stage's error
// class), never raw error text with paths or PIDs in it.
type Event struct {
	Kind   EventKind `json:"kind"`
	Stage  string    `json:"stage"`
	Detail string    `json:"detail,omitempty"`
}

// RunTrace is the record of one packaging run. Events appear in pipeline
// order; the pipeline is strictly sequential, so insertion order is already
// canonical.
type RunTrace struct {
	RunID  string  `json:"runId"`
	Events []Event `json:"events"`
}

// Validate checks basic invariants and returns a descriptive error.
func (t *RunTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.RunID == "" {
		return errors.New("runId is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Stage == "" {
			return fmt.Errorf("events[%d].stage is required", i)
		}
	}
	return nil
}

// CanonicalJSON returns the canonical encoding: fixed field order, events
// emitted as an array even when empty.
func (t RunTrace) CanonicalJSON() ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"runId":`)
	id, _ := json.Marshal(t.RunID)
	buf.Write(id)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// Sink receives events as the pipeline produces them. Record must be inert:
// it must not panic and must not influence execution.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}

// Recorder collects events in memory. The pipeline is single-threaded, so
// no locking is needed.
type Recorder struct {
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	r.events = append(r.events, event)
}

// Trace builds a RunTrace from the recorded events. The returned trace owns
// a copy of the events.
func (r *Recorder) Trace(runID string) RunTrace {
	t := RunTrace{RunID: runID}
	if r != nil {
		t.Events = make([]Event, len(r.events))
		copy(t.Events, r.events)
	}
	return t
}
