// Package monitoring defines the typed envelope that flows from a source
// through the checking-point pipeline, and the result of evaluating it.
package monitoring

import "time"

// Kind tags the variant of payload carried by a MonitoringData item.
type Kind string

const (
	KindClickUpTask   Kind = "clickup_task"
	KindSlackMessage  Kind = "slack_message"
	KindEmailAlert    Kind = "email_alert"
	KindWebhookEvent  Kind = "webhook_event"
	KindCustom        Kind = "custom"
)

// Status tracks a MonitoringData item's position in its own lifecycle.
// It is monotone: pending -> processing -> {completed|skipped|failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Data is the typed envelope wrapping one observation from an external
// source. Payload carries the kind-specific body as a loosely typed map;
// concrete checking points assert the shape they expect for their Kind.
type Data struct {
	ID          string                 `json:"id"`
	Kind        Kind                   `json:"kind"`
	Source      string                 `json:"source"`
	Payload     map[string]interface{} `json:"payload"`
	CapturedAt  time.Time              `json:"captured_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	Status      Status                 `json:"status"`
	Errors      []string               `json:"errors,omitempty"`
	Metadata    map[string]string      `json:"metadata,omitempty"`
}

// NewData constructs a fresh item in the pending state.
func NewData(id string, kind Kind, source string, payload map[string]interface{}) *Data {
	return &Data{
		ID:         id,
		Kind:       kind,
		Source:     source,
		Payload:    payload,
		CapturedAt: time.Now().UTC(),
		Status:     StatusPending,
		Metadata:   make(map[string]string),
	}
}

// AddError appends an error to the item's history. If the item is still
// pending, this forces it into the failed status per the invariant that
// an item carrying errors can never be reported as having succeeded
// silently.
func (d *Data) AddError(msg string) {
	d.Errors = append(d.Errors, msg)
	if d.Status == StatusPending {
		d.Status = StatusFailed
	}
}

// Terminal reports whether the item has reached a terminal status.
func (d *Data) Terminal() bool {
	switch d.Status {
	case StatusCompleted, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// MarkTerminal transitions the item to a terminal status and stamps
// ProcessedAt. Calling it with a non-terminal status panics — this is a
// contract violation, not an expected runtime condition.
func (d *Data) MarkTerminal(status Status) {
	switch status {
	case StatusCompleted, StatusSkipped, StatusFailed:
	default:
		panic("monitoring: MarkTerminal requires a terminal status")
	}
	d.Status = status
	now := time.Now().UTC()
	d.ProcessedAt = &now
}

// Outcome is the result of one checking point evaluating one Data item.
type Outcome string

const (
	OutcomeMatch   Outcome = "match"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeError   Outcome = "error"
	OutcomeSkip    Outcome = "skip"
)

// CheckResult is the outcome of a single checking point's evaluation.
type CheckResult struct {
	CPName            string                 `json:"cp_name"`
	CPType            string                 `json:"cp_type"`
	Outcome           Outcome                `json:"outcome"`
	ShouldAct         bool                   `json:"should_act"`
	Confidence        float64                `json:"confidence"`
	Reason            string                 `json:"reason"`
	Context           map[string]interface{} `json:"context,omitempty"`
	EvaluatedAt       time.Time              `json:"evaluated_at"`
	DurationMs        int64                  `json:"duration_ms"`
	ErrorMessage      *string                `json:"error_message,omitempty"`
	SuggestedActions  []string               `json:"suggested_actions,omitempty"`
}

// NewCheckResult returns a no_match result with an empty context,
// stamped with the evaluating CP's identity and the current time;
// callers finish it via the Set* mutators below.
func NewCheckResult(cpName, cpType string) *CheckResult {
	return &CheckResult{
		CPName:      cpName,
		CPType:      cpType,
		Outcome:     OutcomeNoMatch,
		Context:     make(map[string]interface{}),
		EvaluatedAt: time.Now().UTC(),
	}
}

func (r *CheckResult) IsMatch() bool   { return r.Outcome == OutcomeMatch }
func (r *CheckResult) IsNoMatch() bool { return r.Outcome == OutcomeNoMatch }
func (r *CheckResult) IsError() bool   { return r.Outcome == OutcomeError }
func (r *CheckResult) IsSkip() bool    { return r.Outcome == OutcomeSkip }
func (r *CheckResult) HasActions() bool {
	return len(r.SuggestedActions) > 0
}

func (r *CheckResult) IsHighConfidence(threshold float64) bool {
	return r.Confidence >= threshold
}

// SetMatch marks the result as a match with the given reason/confidence.
// confidence is clamped to [0,1] per the invariant in §3.
func (r *CheckResult) SetMatch(reason string, confidence float64) {
	r.Outcome = OutcomeMatch
	r.ShouldAct = true
	r.Reason = reason
	r.Confidence = clamp01(confidence)
}

func (r *CheckResult) SetNoMatch(reason string) {
	r.Outcome = OutcomeNoMatch
	r.ShouldAct = false
	r.Reason = reason
	r.Confidence = 0
}

func (r *CheckResult) SetSkip(reason string) {
	r.Outcome = OutcomeSkip
	r.ShouldAct = false
	r.Reason = reason
	r.Confidence = 0
}

func (r *CheckResult) SetError(message string) {
	r.Outcome = OutcomeError
	r.ShouldAct = false
	r.Confidence = 0
	r.ErrorMessage = &message
}

// AddAction appends a suggested action name if not already present.
func (r *CheckResult) AddAction(name string) {
	for _, a := range r.SuggestedActions {
		if a == name {
			return
		}
	}
	r.SuggestedActions = append(r.SuggestedActions, name)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
