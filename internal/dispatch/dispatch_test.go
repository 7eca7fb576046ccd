package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/monitor-core/internal/notify"
	"github.com/agentoven/monitor-core/internal/workflow"
	"github.com/agentoven/monitor-core/pkg/checkpoint"
	"github.com/agentoven/monitor-core/pkg/monitoring"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeExecutor) ExecuteProposedTool(ctx context.Context, name string, args map[string]interface{}) (bool, interface{}, string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	return true, map[string]interface{}{"ok": true}, ""
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stubCP struct {
	immediate []checkpoint.Action
	after     []checkpoint.AIAction
}

func (c *stubCP) Name() string                    { return "stub" }
func (c *stubCP) Type() string                    { return "stub" }
func (c *stubCP) Description() string             { return "" }
func (c *stubCP) Version() string                 { return "v1" }
func (c *stubCP) Enabled() bool                   { return true }
func (c *stubCP) Priority() int                   { return 5 }
func (c *stubCP) StopOnMatch() bool                { return false }
func (c *stubCP) Timeout() time.Duration          { return time.Second }
func (c *stubCP) ApprovalRequired() bool          { return false }
func (c *stubCP) ApprovalTimeout() time.Duration  { return 0 }
func (c *stubCP) AIWorkflowEnabled() bool         { return len(c.after) > 0 }
func (c *stubCP) Accepts(kind monitoring.Kind) bool { return true }
func (c *stubCP) Fetch(ctx context.Context, params map[string]interface{}) ([]*monitoring.Data, error) {
	return nil, nil
}
func (c *stubCP) Evaluate(ctx context.Context, data *monitoring.Data) (*monitoring.CheckResult, error) {
	return nil, nil
}
func (c *stubCP) ImmediateActions(data *monitoring.Data, result *monitoring.CheckResult) []checkpoint.Action {
	return c.immediate
}
func (c *stubCP) AfterProcess(data *monitoring.Data, result *monitoring.CheckResult) []checkpoint.AIAction {
	return c.after
}
func (c *stubCP) PromptVariables(data *monitoring.Data, result *monitoring.CheckResult) map[string]interface{} {
	return nil
}
func (c *stubCP) ValidateConfig() []string { return nil }

func matchResult() *monitoring.CheckResult {
	r := monitoring.NewCheckResult("stub", "stub")
	r.SetMatch("matched", 0.9)
	return r
}

func TestHandleSkipsDispatchWhenResultDoesNotAct(t *testing.T) {
	var invoked bool
	det := notify.NewDispatcher()
	det.Register("notify_slack", func(ctx context.Context, itemID string, params map[string]interface{}) error {
		invoked = true
		return nil
	})

	d := New(det, nil, nil)
	cp := &stubCP{immediate: []checkpoint.Action{{Name: "notify_slack"}}}
	result := monitoring.NewCheckResult("stub", "stub")
	result.SetNoMatch("nothing to see")

	d.Handle(context.Background(), cp, monitoring.NewData("i1", monitoring.KindSlackMessage, "slack", nil), result)
	assert.False(t, invoked)
}

func TestHandleDispatchesImmediateActionsSynchronously(t *testing.T) {
	var invoked bool
	det := notify.NewDispatcher()
	det.Register("notify_slack", func(ctx context.Context, itemID string, params map[string]interface{}) error {
		invoked = true
		return nil
	})

	d := New(det, nil, nil)
	cp := &stubCP{immediate: []checkpoint.Action{{Name: "notify_slack"}}}

	d.Handle(context.Background(), cp, monitoring.NewData("i1", monitoring.KindSlackMessage, "slack", nil), matchResult())
	assert.True(t, invoked)
}

func TestHandleLaunchesWorkflowProposalsAsynchronously(t *testing.T) {
	executor := &fakeExecutor{}
	engine := workflow.NewEngine(executor, nil, nil)

	done := make(chan workflow.Result, 1)
	d := New(notify.NewDispatcher(), engine, func(r workflow.Result) {
		done <- r
	})

	cp := &stubCP{after: []checkpoint.AIAction{{Name: "triage", WorkflowName: "triage_tool", CPName: "stub"}}}
	d.Handle(context.Background(), cp, monitoring.NewData("i1", monitoring.KindSlackMessage, "slack", nil), matchResult())

	select {
	case r := <-done:
		assert.True(t, r.Success)
		assert.Equal(t, workflow.StateCompleted, r.FinalState)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for workflow completion callback")
	}
	assert.Equal(t, 1, executor.callCount())
}

func TestHandleDispatchesWebhookActionOverHTTP(t *testing.T) {
	var mu sync.Mutex
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	det := notify.NewDispatcher()
	det.Register("webhook_notify", notify.WebhookHandler(nil, notify.WebhookConfig{URL: srv.URL}))

	d := New(det, nil, nil)
	cp := &stubCP{immediate: []checkpoint.Action{{Name: "webhook_notify"}}}
	d.Handle(context.Background(), cp, monitoring.NewData("i1", monitoring.KindSlackMessage, "slack", nil), matchResult())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, hits)
}
