// Package dispatch implements the Action Dispatcher of §4.4: routing a
// CheckResult's ImmediateActions to the deterministic notify.Dispatcher
// and its AfterProcess AIAction proposals into the workflow.Engine.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/monitor-core/internal/audit"
	"github.com/agentoven/monitor-core/internal/notify"
	"github.com/agentoven/monitor-core/internal/workflow"
	"github.com/agentoven/monitor-core/pkg/checkpoint"
	"github.com/agentoven/monitor-core/pkg/monitoring"
)

// Dispatcher ties a CP's declared actions to their respective
// execution surfaces: deterministic actions run synchronously through
// notify.Dispatcher, AI proposals are handed to workflow.Engine and run
// in their own goroutine since they may await human approval.
type Dispatcher struct {
	deterministic *notify.Dispatcher
	workflows     *workflow.Engine
	onWorkflow    func(result workflow.Result)
	auditSink     audit.Sink
}

func New(deterministic *notify.Dispatcher, workflows *workflow.Engine, onWorkflow func(result workflow.Result)) *Dispatcher {
	return &Dispatcher{deterministic: deterministic, workflows: workflows, onWorkflow: onWorkflow, auditSink: audit.NewMemorySink()}
}

// WithAuditSink swaps the dispatcher's audit sink, e.g. for a
// PostgresSink in production. Never required for the dispatcher to run.
func (d *Dispatcher) WithAuditSink(sink audit.Sink) *Dispatcher {
	d.auditSink = sink
	return d
}

// Handle is an engine.ResultHandler: it dispatches a CP's ImmediateActions
// inline and launches any AfterProcess AI proposals asynchronously,
// per §4.3's "action dispatch" pipeline stage.
func (d *Dispatcher) Handle(ctx context.Context, cp checkpoint.CheckingPoint, data *monitoring.Data, result *monitoring.CheckResult) {
	if !result.ShouldAct {
		return
	}

	actions := cp.ImmediateActions(data, result)
	if len(actions) > 0 && d.deterministic != nil {
		if errs := d.deterministic.Dispatch(ctx, data.ID, cp.Name(), actions); len(errs) > 0 {
			log.Warn().Int("failed", len(errs)).Str("item", data.ID).Str("cp", cp.Name()).Msg("dispatch: some deterministic actions failed")
		}
	}

	if d.workflows == nil {
		return
	}
	proposals := cp.AfterProcess(data, result)
	for _, proposal := range proposals {
		proposal := proposal
		go func() {
			wfResult := d.workflows.Execute(ctx, proposal)
			if d.onWorkflow != nil {
				d.onWorkflow(wfResult)
			}
			if d.auditSink != nil {
				event := audit.Event{
					ProposalID:   wfResult.ProposalID,
					CPName:       cp.Name(),
					WorkflowName: proposal.WorkflowName,
					FinalState:   string(wfResult.FinalState),
					Success:      wfResult.Success,
					Reason:       wfResult.Reason,
					Iterations:   wfResult.Iterations,
					RecordedAt:   time.Now().UTC(),
				}
				if err := d.auditSink.Record(ctx, event); err != nil {
					log.Warn().Err(err).Str("proposal", wfResult.ProposalID).Msg("dispatch: failed to record audit event")
				}
			}
			log.Info().
				Str("proposal", wfResult.ProposalID).
				Str("final_state", string(wfResult.FinalState)).
				Bool("success", wfResult.Success).
				Str("item", data.ID).
				Msg("dispatch: workflow run finished")
		}()
	}
}
