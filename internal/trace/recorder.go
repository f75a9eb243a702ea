// Package trace keeps the execution record of a single workflow run: every
// model invocation and every externally visible action, in order.
package trace

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes model invocations from side-effecting actions.
type Kind int

const (
	KindModel Kind = iota
	KindAction
)

func (k Kind) String() string {
	if k == KindAction {
		return "action"
	}
	return "model"
}

// Block is one entry of the execution record.
type Block struct {
	Kind      Kind      `json:"kind"`
	Step      string    `json:"step"`
	Action    string    `json:"action,omitempty"`
	Input     string    `json:"input,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Output    string    `json:"output,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// String renders the block in the plain-text log format.
func (b Block) String() string {
	var sb strings.Builder
	sb.WriteString("Step: ")
	sb.WriteString(b.Step)
	sb.WriteByte('\n')
	if b.Kind == KindAction {
		sb.WriteString("Action: ")
		sb.WriteString(b.Action)
		sb.WriteByte('\n')
	}
	sb.WriteString("Input: ")
	sb.WriteString(b.Input)
	sb.WriteByte('\n')
	if b.Reasoning != "" {
		sb.WriteString("Reasoning: ")
		sb.WriteString(b.Reasoning)
		sb.WriteByte('\n')
	}
	if b.Err != "" {
		sb.WriteString("Error: ")
		sb.WriteString(b.Err)
	} else {
		sb.WriteString("Output: ")
		sb.WriteString(b.Output)
	}
	sb.WriteString("\n---\n")
	return sb.String()
}

// Recorder is an append-only execution record owned by one run. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	mu     sync.Mutex
	runID  string
	blocks []Block
	now    func() time.Time
}

func NewRecorder(runID string) *Recorder {
	return &Recorder{runID: runID, now: time.Now}
}

func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.runID
}

func (r *Recorder) append(b Block) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b.At = r.now()
	r.blocks = append(r.blocks, b)
}

// RecordModel appends a successful model invocation.
func (r *Recorder) RecordModel(step, input, reasoning, output string) {
	r.append(Block{Kind: KindModel, Step: step, Input: input, Reasoning: reasoning, Output: output})
}

// RecordModelError appends a failed model invocation.
func (r *Recorder) RecordModelError(step, input string, err error) {
	r.append(Block{Kind: KindModel, Step: step, Input: input, Err: errString(err)})
}

// RecordAction appends a side-effecting action and its outcome.
func (r *Recorder) RecordAction(step, action, input, output string) {
	r.append(Block{Kind: KindAction, Step: step, Action: action, Input: input, Output: output})
}

// RecordActionError appends a failed side-effecting action.
func (r *Recorder) RecordActionError(step, action, input string, err error) {
	r.append(Block{Kind: KindAction, Step: step, Action: action, Input: input, Err: errString(err)})
}

// Blocks returns a copy of the recorded blocks.
func (r *Recorder) Blocks() []Block {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Block, len(r.blocks))
	copy(out, r.blocks)
	return out
}

func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

// String renders every block in order.
func (r *Recorder) String() string {
	var sb strings.Builder
	for _, b := range r.Blocks() {
		sb.WriteString(b.String())
	}
	return sb.String()
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

type ctxKey struct{}

// WithRecorder attaches r to ctx.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// FromContext returns the run's recorder, or nil when none is attached.
func FromContext(ctx context.Context) *Recorder {
	r, _ := ctx.Value(ctxKey{}).(*Recorder)
	return r
}
