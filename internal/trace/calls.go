package trace

import (
	"context"
	"time"
)

// CallRecord is the persisted audit entry for one model invocation.
// Failed calls carry Error and no usage.
type CallRecord struct {
	ID           string
	RunID        string
	StepName     string
	Model        string
	Input        string
	Output       string
	Error        string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Cost         float64
	Duration     time.Duration
	CreatedAt    time.Time
}

// CallSink persists call records.
type CallSink interface {
	SaveModelCall(ctx context.Context, rec CallRecord) error
}
