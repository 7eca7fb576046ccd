// Package checkpoint defines the CheckingPoint contract and the
// process-wide registry that owns CP instances.
package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/monitor-core/internal/clienterrors"
	"github.com/agentoven/monitor-core/pkg/monitoring"
)

// Action is a deterministic side effect emitted by a CP's
// ImmediateActions, resolved to a handler by the dispatcher.
type Action struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// AIAction is a declarative proposal for an AI workflow run, per §4.4.
type AIAction struct {
	Name               string
	Type               string
	WorkflowName       string
	CPName             string
	Timeout            time.Duration
	RetryAttempts      int
	RetryDelay         time.Duration
	Parameters         map[string]interface{}
	PromptTemplateID   string
	PromptVariables    map[string]interface{}
	AgentRole          string
	ApprovalRequired   bool
	ApprovalTimeout    time.Duration
	Priority           int
	ScheduledAt        *time.Time
}

// CheckingPoint is the polymorphic evaluator contract every concrete CP
// satisfies, per §4.2. A CP never blocks on external I/O inside
// Evaluate besides light source-metadata reads its own algorithm needs.
type CheckingPoint interface {
	Name() string
	Type() string
	Description() string
	Version() string
	Enabled() bool
	Priority() int
	StopOnMatch() bool
	Timeout() time.Duration
	ApprovalRequired() bool
	ApprovalTimeout() time.Duration
	AIWorkflowEnabled() bool

	// Accepts is the capability gate: does this CP evaluate items of kind k.
	Accepts(kind monitoring.Kind) bool

	Fetch(ctx context.Context, params map[string]interface{}) ([]*monitoring.Data, error)
	Evaluate(ctx context.Context, data *monitoring.Data) (*monitoring.CheckResult, error)
	ImmediateActions(data *monitoring.Data, result *monitoring.CheckResult) []Action
	AfterProcess(data *monitoring.Data, result *monitoring.CheckResult) []AIAction
	PromptVariables(data *monitoring.Data, result *monitoring.CheckResult) map[string]interface{}
	ValidateConfig() []string
}

// BasePromptVariables supplies the general fields every CP family
// should include before layering on its own domain-specific keys, per
// §4.2's "base class provides general fields" note.
func BasePromptVariables(data *monitoring.Data, result *monitoring.CheckResult) map[string]interface{} {
	vars := map[string]interface{}{
		"id":          data.ID,
		"source":      data.Source,
		"captured_at": data.CapturedAt,
		"reason":      result.Reason,
		"confidence":  result.Confidence,
	}
	for k, v := range result.Context {
		vars[k] = v
	}
	return vars
}

// ValidateCommon checks the attributes shared by every CP family,
// per §4.2's config validation contract. Subfamilies append their own
// constraint checks to the returned slice.
func ValidateCommon(cp CheckingPoint) []string {
	var errs []string
	if cp.Name() == "" {
		errs = append(errs, "name must not be empty")
	}
	if cp.Timeout() <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if cp.Priority() < 1 || cp.Priority() > 10 {
		errs = append(errs, "priority must be between 1 and 10")
	}
	return errs
}

// summaryEntry is one row of Registry.Summary.
type summaryEntry struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
}

// registryEntry pairs a registered CP with its registration sequence
// number, so ApplicableFor can tie-break by true insertion order even
// though the map backing the registry does not preserve one.
type registryEntry struct {
	cp  CheckingPoint
	seq int
}

// Registry owns a process-wide, mutable collection of CP instances
// keyed by name, per §4.1. Registration is serialized and publishes a
// fresh copy of the map; lookups take the same mutex only long enough
// to read the current map reference, then read that snapshot without
// holding it. Lookups are therefore not lock-free: they briefly
// serialize with each other and with writers on that mutex.
type Registry struct {
	mu      sync.Mutex
	cps     map[string]registryEntry
	nextSeq int
}

// NewRegistry returns an empty registry. Tests construct fresh
// instances rather than sharing a process-wide singleton, per §9's
// "global singletons" design note.
func NewRegistry() *Registry {
	return &Registry{cps: make(map[string]registryEntry)}
}

// Register adds cp to the registry after validating its config. Fails
// with clienterrors.ErrDuplicate if the name is already present, or a
// *clienterrors.ClientError(KindValidation) if config validation
// surfaces any errors.
func (r *Registry) Register(cp CheckingPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cps[cp.Name()]; exists {
		return fmt.Errorf("registry: %q: %w", cp.Name(), clienterrors.ErrDuplicate)
	}
	if warnings := cp.ValidateConfig(); len(warnings) > 0 {
		return clienterrors.New(clienterrors.KindValidation, "register", fmt.Sprintf("cp %q failed validation: %v", cp.Name(), warnings))
	}

	next := make(map[string]registryEntry, len(r.cps)+1)
	for k, v := range r.cps {
		next[k] = v
	}
	next[cp.Name()] = registryEntry{cp: cp, seq: r.nextSeq}
	r.nextSeq++
	r.cps = next
	return nil
}

// Unregister removes the named CP. Fails with clienterrors.ErrNotFound
// if absent.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.cps[name]; !exists {
		return fmt.Errorf("registry: %q: %w", name, clienterrors.ErrNotFound)
	}
	next := make(map[string]registryEntry, len(r.cps)-1)
	for k, v := range r.cps {
		if k != name {
			next[k] = v
		}
	}
	r.cps = next
	return nil
}

// Get returns the named CP, or false if absent. It holds r.mu only to
// read the current snapshot reference; the lookup itself runs unlocked.
func (r *Registry) Get(name string) (CheckingPoint, bool) {
	r.mu.Lock()
	snapshot := r.cps
	r.mu.Unlock()
	entry, ok := snapshot[name]
	return entry.cp, ok
}

// All returns every registered CP in an unspecified order that may
// differ from one call to the next (callers needing priority or
// registration order should use ApplicableFor).
func (r *Registry) All() []CheckingPoint {
	r.mu.Lock()
	snapshot := r.cps
	r.mu.Unlock()
	out := make([]CheckingPoint, 0, len(snapshot))
	for _, entry := range snapshot {
		out = append(out, entry.cp)
	}
	return out
}

// allWithSeq is like All but retains each entry's registration
// sequence number, for ApplicableFor's insertion-order tie-break.
func (r *Registry) allWithSeq() []registryEntry {
	r.mu.Lock()
	snapshot := r.cps
	r.mu.Unlock()
	out := make([]registryEntry, 0, len(snapshot))
	for _, entry := range snapshot {
		out = append(out, entry)
	}
	return out
}

// ByType returns every registered CP whose Type() matches tag.
func (r *Registry) ByType(tag string) []CheckingPoint {
	var out []CheckingPoint
	for _, cp := range r.All() {
		if cp.Type() == tag {
			out = append(out, cp)
		}
	}
	return out
}

// ApplicableFor filters first by cp.Enabled() then by cp.Accepts(kind),
// returning the matches sorted by Priority descending, ties broken by
// registration order (first registered runs first), per §4.3 stage 2.
func (r *Registry) ApplicableFor(data *monitoring.Data) []CheckingPoint {
	all := r.allWithSeq()
	filtered := make([]registryEntry, 0, len(all))
	for _, entry := range all {
		if !entry.cp.Enabled() {
			continue
		}
		if !entry.cp.Accepts(data.Kind) {
			continue
		}
		filtered = append(filtered, entry)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].cp.Priority() != filtered[j].cp.Priority() {
			return filtered[i].cp.Priority() > filtered[j].cp.Priority()
		}
		return filtered[i].seq < filtered[j].seq
	})
	out := make([]CheckingPoint, len(filtered))
	for i, entry := range filtered {
		out[i] = entry.cp
	}
	return out
}

// Summary returns a per-CP snapshot of name/type/enabled/priority.
func (r *Registry) Summary() []summaryEntry {
	all := r.All()
	out := make([]summaryEntry, 0, len(all))
	for _, cp := range all {
		out = append(out, summaryEntry{
			Name:     cp.Name(),
			Type:     cp.Type(),
			Enabled:  cp.Enabled(),
			Priority: cp.Priority(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
