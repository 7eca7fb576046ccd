// Package workflow drives each AI proposal through the fixed external
// state contract of §3/§4.5: policy check, human approval, capability
// discovery, MCP execution, and retry.
package workflow

// State is the per-proposal lifecycle enum. Its string values are a
// fixed external contract collaborators filter on verbatim — do not
// rename them even though the categorization tables below are purely
// an internal convenience.
type State string

const (
	StatePending                      State = "PENDING"
	StateRunning                      State = "RUNNING"
	StateProposalObtained             State = "PROPOSAL_OBTAINED"
	StatePolicyApproved               State = "POLICY_APPROVED"
	StatePolicyRejected               State = "POLICY_REJECTED"
	StateApprovalRequired             State = "APPROVAL_REQUIRED"
	StateAwaitingApproval             State = "AWAITING_APPROVAL"
	StateApprovalSkipped              State = "APPROVAL_SKIPPED"
	StateApprovalComplete             State = "APPROVAL_COMPLETE"
	StateApprovalRejected             State = "APPROVAL_REJECTED"
	StateCapabilityDiscoveryComplete  State = "CAPABILITY_DISCOVERY_COMPLETE"
	StateExecutionFailed              State = "EXECUTION_FAILED"
	StateResultsProcessed             State = "RESULTS_PROCESSED"
	StateErrorHandled                 State = "ERROR_HANDLED"
	StateCompleted                    State = "COMPLETED"
	StateContinuing                   State = "CONTINUING"
	StateFailed                       State = "FAILED"
	StateApprovalResolved             State = "APPROVAL_RESOLVED"
)

// The five membership tables below are the supplemented
// workflow-state-categorization feature, carried over from the
// original system's parallel STATE_CATEGORIES/COMPLETION_STATES/
// CONTINUING_STATES/ERROR_STATES lookups. They are internal
// convenience, not part of the external contract — a state can belong
// to more than one set (RESULTS_PROCESSED is both a processing state
// and a completion state), matching §3 exactly.

// processingStates is the non-terminal, non-error "still running" set.
var processingStates = map[State]bool{
	StateRunning:                     true,
	StateProposalObtained:            true,
	StatePolicyApproved:              true,
	StateAwaitingApproval:            true,
	StateApprovalRequired:            true,
	StateApprovalSkipped:             true,
	StateApprovalComplete:            true,
	StateCapabilityDiscoveryComplete: true,
	StateResultsProcessed:            true,
	StateContinuing:                  true,
	StateErrorHandled:                true,
}

// errorStates is the recoverable-or-rejected failure set.
var errorStates = map[State]bool{
	StatePolicyRejected:  true,
	StateApprovalRejected: true,
	StateExecutionFailed: true,
}

// completionStates is the subset of terminal states reached by success
// paths (as opposed to FAILED).
var completionStates = map[State]bool{
	StateCompleted:        true,
	StateResultsProcessed: true,
	StateApprovalResolved: true,
}

// continuingStates authorize another loop iteration.
var continuingStates = map[State]bool{
	StateContinuing: true,
	StateRunning:    true,
}

// terminalStates ends the workflow run, per §3's terminal set exactly.
var terminalStates = map[State]bool{
	StateCompleted:        true,
	StateFailed:           true,
	StateApprovalResolved: true,
	StateResultsProcessed: true,
	StatePolicyRejected:   true,
	StateErrorHandled:     true,
}

// IsTerminal reports whether s ends the workflow run.
func IsTerminal(s State) bool { return terminalStates[s] }

// IsContinuing reports whether s authorizes another loop iteration.
func IsContinuing(s State) bool { return continuingStates[s] }

// IsError reports whether s is in the error-set bucket.
func IsError(s State) bool { return errorStates[s] }

// IsProcessing reports whether s is in the processing-set bucket.
func IsProcessing(s State) bool { return processingStates[s] }

// IsCompletion reports whether s is a success-path terminal state.
func IsCompletion(s State) bool { return completionStates[s] }
