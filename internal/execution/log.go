package execution

import (
	"errors"
	"sync"
)

// ErrStageWritten is returned when a pipeline stage writes its log entry
// a second time.
var ErrStageWritten = errors.New("execution log stage already written")

// Log is the structured trail attached to a produced message. Every field
// is an opaque human-readable string; an absent field means the stage was
// not exercised for this message, never an empty string.
type Log struct {
	Router    string `json:"router,omitempty"`
	RAG       string `json:"rag,omitempty"`
	Execution string `json:"execution,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Persona   string `json:"persona,omitempty"`
}

// Empty reports whether no stage contributed to the log.
func (l Log) Empty() bool {
	return l == Log{}
}

// Trail accumulates stage entries while a pipeline runs. Each stage may
// write at most once; once Finish is called the log is detached and the
// trail no longer accepts writes. Safe for concurrent use.
type Trail struct {
	mu       sync.Mutex
	log      Log
	written  map[string]struct{}
	finished bool
}

// NewTrail returns an empty trail.
func NewTrail() *Trail {
	return &Trail{written: make(map[string]struct{})}
}

func (t *Trail) set(stage string, dst *string, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return ErrStageWritten
	}
	if _, ok := t.written[stage]; ok {
		return ErrStageWritten
	}
	if value == "" {
		// Skipped stages stay absent rather than appearing as empty strings.
		return nil
	}
	t.written[stage] = struct{}{}
	*dst = value
	return nil
}

func (t *Trail) SetRouter(v string) error    { return t.set("router", &t.log.Router, v) }
func (t *Trail) SetRAG(v string) error       { return t.set("rag", &t.log.RAG, v) }
func (t *Trail) SetExecution(v string) error { return t.set("execution", &t.log.Execution, v) }
func (t *Trail) SetReasoning(v string) error { return t.set("reasoning", &t.log.Reasoning, v) }
func (t *Trail) SetPersona(v string) error   { return t.set("persona", &t.log.Persona, v) }

// Finish seals the trail and returns the accumulated log by value, so the
// attached copy can never be mutated afterwards.
func (t *Trail) Finish() Log {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	return t.log
}
