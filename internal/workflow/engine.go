package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/monitor-core/pkg/checkpoint"
)

// ToolExecutor is the narrow surface the workflow engine needs from the
// MCP client core; Execute's AI proposal step hands off to this rather
// than importing the client package's full surface directly.
type ToolExecutor interface {
	ExecuteProposedTool(ctx context.Context, name string, args map[string]interface{}) (success bool, data interface{}, errMsg string)
}

// PolicyFunc evaluates whether a proposal is authorized to proceed,
// returning a human-readable reason either way. A nil PolicyFunc
// approves every proposal.
type PolicyFunc func(ctx context.Context, action checkpoint.AIAction) (approved bool, reason string, err error)

// ConditionPolicy builds a PolicyFunc from a declarative expr-lang
// condition string evaluated against the action's own fields and
// parameters, replacing the original hand-rolled condition matcher.
// An empty condition always approves.
func ConditionPolicy(condition string) PolicyFunc {
	return func(ctx context.Context, action checkpoint.AIAction) (bool, string, error) {
		if condition == "" {
			return true, "no policy condition configured", nil
		}
		env := map[string]interface{}{
			"name":          action.Name,
			"type":          action.Type,
			"workflow_name": action.WorkflowName,
			"cp_name":       action.CPName,
			"priority":      action.Priority,
			"params":        action.Parameters,
			"variables":     action.PromptVariables,
		}
		out, err := expr.Eval(condition, env)
		if err != nil {
			return false, fmt.Sprintf("policy condition error: %v", err), err
		}
		approved, ok := out.(bool)
		if !ok {
			return false, "policy condition did not evaluate to a boolean", nil
		}
		if approved {
			return true, "policy condition satisfied", nil
		}
		return false, "policy condition not satisfied", nil
	}
}

// Result is the observable outcome of one Execute run.
type Result struct {
	ProposalID string
	FinalState State
	Success    bool
	Reason     string
	Iterations int
	Data       interface{}
}

// ApprovalDecision is delivered either via Engine.Approve (in-process
// signal) or an injected ApprovalStore (external callback), mirroring
// the dual-path wait the reference control-plane's human gate uses.
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// ApprovalStore lets an external channel (Slack, email, a REST
// callback outside this module's scope) resolve a pending gate by
// polling. Optional — a nil store means only Engine.Approve can
// resolve gates.
type ApprovalStore interface {
	Poll(ctx context.Context, gateKey string) (*ApprovalDecision, error)
}

// Engine drives AIAction proposals through the state machine of §4.5.
// One state machine per proposal; many proposals run concurrently,
// each a single-owner, non-interleaved sequence of transitions.
type Engine struct {
	executor ToolExecutor
	policy   PolicyFunc
	store    ApprovalStore

	gatesMu sync.Mutex
	gates   map[string]chan ApprovalDecision
}

func NewEngine(executor ToolExecutor, policy PolicyFunc, store ApprovalStore) *Engine {
	if policy == nil {
		policy = ConditionPolicy("")
	}
	return &Engine{
		executor: executor,
		policy:   policy,
		store:    store,
		gates:    make(map[string]chan ApprovalDecision),
	}
}

// Approve resolves a pending AWAITING_APPROVAL gate for proposalID via
// the in-memory fast path. Returns false if no gate is pending.
func (e *Engine) Approve(proposalID string, approved bool, reason string) bool {
	e.gatesMu.Lock()
	ch, ok := e.gates[proposalID]
	e.gatesMu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- ApprovalDecision{Approved: approved, Reason: reason}:
		return true
	default:
		return false
	}
}

// transition records a state change to the debug log and returns s, so
// every assignment to Execute's state local is an observable event
// rather than scaffolding nothing reads.
func (e *Engine) transition(proposalID string, s State) State {
	log.Debug().Str("proposal", proposalID).Str("state", string(s)).Msg("workflow: state transition")
	return s
}

// Execute drives action through the full state machine to a terminal
// state, per the DAG in §4.5.
func (e *Engine) Execute(ctx context.Context, action checkpoint.AIAction) Result {
	proposalID := uuid.NewString()
	iterations := 0

	state := e.transition(proposalID, StatePending)
	state = e.transition(proposalID, StateRunning)

	for {
		iterations++

		state = e.transition(proposalID, StateProposalObtained)

		approved, reason, err := e.policy(ctx, action)
		if err != nil {
			log.Warn().Err(err).Str("proposal", proposalID).Msg("workflow: policy evaluation error")
		}
		if !approved {
			state = e.transition(proposalID, StatePolicyRejected)
			return Result{ProposalID: proposalID, FinalState: state, Success: false, Reason: reason, Iterations: iterations}
		}
		state = e.transition(proposalID, StatePolicyApproved)

		if !action.ApprovalRequired {
			state = e.transition(proposalID, StateApprovalSkipped)
		} else {
			state = e.transition(proposalID, StateApprovalRequired)
			gateState, gateReason := e.awaitApproval(ctx, proposalID, action)
			state = e.transition(proposalID, gateState)
			if state == StateApprovalRejected {
				return Result{ProposalID: proposalID, FinalState: StateFailed, Success: false, Reason: gateReason, Iterations: iterations}
			}
			// state == StateApprovalComplete: proceed.
		}

		state = e.transition(proposalID, StateCapabilityDiscoveryComplete)

		success, data, errMsg := e.executor.ExecuteProposedTool(ctx, action.WorkflowName, action.Parameters)
		if !success {
			state = e.transition(proposalID, StateExecutionFailed)
			if action.RetryAttempts > 0 {
				action.RetryAttempts--
				state = e.transition(proposalID, StateErrorHandled)
				log.Info().Str("proposal", proposalID).Int("remaining_attempts", action.RetryAttempts).Msg("workflow: retrying after execution failure")
				delay := action.RetryDelay
				if delay <= 0 {
					delay = time.Second
				}
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return Result{ProposalID: proposalID, FinalState: StateFailed, Success: false, Reason: "canceled during retry wait", Iterations: iterations}
				case <-timer.C:
				}
				state = e.transition(proposalID, StateRunning)
				continue
			}
			return Result{ProposalID: proposalID, FinalState: StateFailed, Success: false, Reason: errMsg, Iterations: iterations}
		}

		state = e.transition(proposalID, StateResultsProcessed)
		return Result{ProposalID: proposalID, FinalState: StateCompleted, Success: true, Reason: "", Iterations: iterations, Data: data}
	}
}

// awaitApproval pauses at AWAITING_APPROVAL until Engine.Approve fires,
// the ApprovalStore reports a resolution, or approval_timeout elapses.
// Timeout resolves to APPROVAL_REJECTED per §4.5.
func (e *Engine) awaitApproval(ctx context.Context, proposalID string, action checkpoint.AIAction) (State, string) {
	ch := make(chan ApprovalDecision, 1)
	e.gatesMu.Lock()
	e.gates[proposalID] = ch
	e.gatesMu.Unlock()
	defer func() {
		e.gatesMu.Lock()
		delete(e.gates, proposalID)
		e.gatesMu.Unlock()
	}()

	gateCtx := ctx
	var cancel context.CancelFunc
	if action.ApprovalTimeout > 0 {
		gateCtx, cancel = context.WithTimeout(ctx, action.ApprovalTimeout)
	} else {
		gateCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var pollCh <-chan time.Time
	if e.store != nil {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		pollCh = ticker.C
	}

	e.transition(proposalID, StateAwaitingApproval)

	for {
		select {
		case decision := <-ch:
			if decision.Approved {
				return StateApprovalComplete, decision.Reason
			}
			return StateApprovalRejected, decision.Reason

		case <-pollCh:
			decision, err := e.store.Poll(gateCtx, proposalID)
			if err == nil && decision != nil {
				if decision.Approved {
					return StateApprovalComplete, decision.Reason
				}
				return StateApprovalRejected, decision.Reason
			}

		case <-gateCtx.Done():
			if action.ApprovalTimeout > 0 {
				return StateApprovalRejected, "approval_timeout"
			}
			return StateApprovalRejected, "canceled"
		}
	}
}
