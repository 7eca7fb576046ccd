package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/monitor-core/internal/clienterrors"
	"github.com/agentoven/monitor-core/pkg/monitoring"
)

type stubCP struct {
	name        string
	kind        monitoring.Kind
	enabled     bool
	priority    int
	stopOnMatch bool
	invalid     bool
}

func (s *stubCP) Name() string                    { return s.name }
func (s *stubCP) Type() string                    { return "stub" }
func (s *stubCP) Description() string             { return "" }
func (s *stubCP) Version() string                 { return "v1" }
func (s *stubCP) Enabled() bool                   { return s.enabled }
func (s *stubCP) Priority() int                   { return s.priority }
func (s *stubCP) StopOnMatch() bool                { return s.stopOnMatch }
func (s *stubCP) Timeout() time.Duration          { return 5 * time.Second }
func (s *stubCP) ApprovalRequired() bool          { return false }
func (s *stubCP) ApprovalTimeout() time.Duration  { return 0 }
func (s *stubCP) AIWorkflowEnabled() bool         { return false }
func (s *stubCP) Accepts(kind monitoring.Kind) bool { return kind == s.kind }
func (s *stubCP) Fetch(ctx context.Context, params map[string]interface{}) ([]*monitoring.Data, error) {
	return nil, nil
}
func (s *stubCP) Evaluate(ctx context.Context, data *monitoring.Data) (*monitoring.CheckResult, error) {
	r := monitoring.NewCheckResult(s.name, s.Type())
	r.SetNoMatch("stub")
	return r, nil
}
func (s *stubCP) ImmediateActions(data *monitoring.Data, result *monitoring.CheckResult) []Action {
	return nil
}
func (s *stubCP) AfterProcess(data *monitoring.Data, result *monitoring.CheckResult) []AIAction {
	return nil
}
func (s *stubCP) PromptVariables(data *monitoring.Data, result *monitoring.CheckResult) map[string]interface{} {
	return BasePromptVariables(data, result)
}
func (s *stubCP) ValidateConfig() []string {
	if s.invalid {
		return []string{"deliberately invalid"}
	}
	return ValidateCommon(s)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	cp := &stubCP{name: "alpha", kind: monitoring.KindSlackMessage, enabled: true, priority: 5}
	require.NoError(t, r.Register(cp))

	got, ok := r.Get("alpha")
	assert.True(t, ok)
	assert.Equal(t, cp, got)
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	cp := &stubCP{name: "alpha", kind: monitoring.KindSlackMessage, enabled: true, priority: 5}
	require.NoError(t, r.Register(cp))

	err := r.Register(cp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, clienterrors.ErrDuplicate))
}

func TestRegisterInvalidConfigFails(t *testing.T) {
	r := NewRegistry()
	cp := &stubCP{name: "bad", kind: monitoring.KindSlackMessage, enabled: true, priority: 5, invalid: true}
	err := r.Register(cp)
	require.Error(t, err)
	ce, ok := clienterrors.As(err)
	require.True(t, ok)
	assert.Equal(t, clienterrors.KindValidation, ce.Kind)
}

func TestUnregisterMissingFails(t *testing.T) {
	r := NewRegistry()
	err := r.Unregister("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, clienterrors.ErrNotFound))
}

func TestApplicableForFiltersAndOrders(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubCP{name: "low", kind: monitoring.KindSlackMessage, enabled: true, priority: 2}))
	require.NoError(t, r.Register(&stubCP{name: "high", kind: monitoring.KindSlackMessage, enabled: true, priority: 9}))
	require.NoError(t, r.Register(&stubCP{name: "disabled", kind: monitoring.KindSlackMessage, enabled: false, priority: 10}))
	require.NoError(t, r.Register(&stubCP{name: "wrong-kind", kind: monitoring.KindEmailAlert, enabled: true, priority: 10}))

	data := monitoring.NewData("x", monitoring.KindSlackMessage, "slack", nil)
	applicable := r.ApplicableFor(data)

	require.Len(t, applicable, 2)
	assert.Equal(t, "high", applicable[0].Name())
	assert.Equal(t, "low", applicable[1].Name())
}

func TestApplicableForBreaksPriorityTiesByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubCP{name: "second", kind: monitoring.KindSlackMessage, enabled: true, priority: 5}))
	require.NoError(t, r.Register(&stubCP{name: "first", kind: monitoring.KindSlackMessage, enabled: true, priority: 5}))
	require.NoError(t, r.Register(&stubCP{name: "third", kind: monitoring.KindSlackMessage, enabled: true, priority: 5}))

	data := monitoring.NewData("x", monitoring.KindSlackMessage, "slack", nil)
	applicable := r.ApplicableFor(data)

	require.Len(t, applicable, 3)
	assert.Equal(t, "second", applicable[0].Name())
	assert.Equal(t, "first", applicable[1].Name())
	assert.Equal(t, "third", applicable[2].Name())
}

func TestValidateCommonBounds(t *testing.T) {
	cp := &stubCP{name: "", priority: 50}
	errs := ValidateCommon(cp)
	assert.Contains(t, errs, "name must not be empty")
	assert.Contains(t, errs, "priority must be between 1 and 10")
}

func TestBasePromptVariablesMergesContext(t *testing.T) {
	data := monitoring.NewData("x", monitoring.KindSlackMessage, "slack", nil)
	result := monitoring.NewCheckResult("cp", "type")
	result.SetMatch("matched", 0.8)
	result.Context["ticket_id"] = "T-1"

	vars := BasePromptVariables(data, result)
	assert.Equal(t, "x", vars["id"])
	assert.Equal(t, "T-1", vars["ticket_id"])
	assert.Equal(t, 0.8, vars["confidence"])
}
