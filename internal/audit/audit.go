// Package audit records the terminal outcome of every workflow proposal
// run to an optional durable sink, separate from the workflow engine's
// own in-memory state. This is an audit trail, not a recovery log: the
// engine never reads it back to resume a run.
package audit

import (
	"context"
	"sync"
	"time"
)

// Event is one terminal workflow outcome.
type Event struct {
	ProposalID string
	CPName     string
	WorkflowName string
	FinalState string
	Success    bool
	Reason     string
	Iterations int
	RecordedAt time.Time
}

// Sink persists Events. Implementations must not block the workflow
// engine's own state transitions — callers record after a proposal
// reaches a terminal state, never mid-run.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// MemorySink is the zero-dependency default: an append-only slice
// guarded by a mutex, adequate for tests and single-process deployments
// that don't need a durable audit trail.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of every recorded event, oldest first.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
