package lifecycle

import (
	"blue-carbon/registry-portal/registry-portal-backend/internal/ledger"
	"blue-carbon/registry-portal/registry-portal-backend/pkg/workflows"
)

// ProjectState is the lifecycle position of a project as observed on the
// ledger. Balance movements (transfer, retire) do not change it.
type ProjectState string

const (
	StateUnregistered  ProjectState = "UNREGISTERED"
	StatePending       ProjectState = "PENDING"
	StateUnderReview   ProjectState = "UNDER_REVIEW"
	StateVerified      ProjectState = "VERIFIED"
	StateRejected      ProjectState = "REJECTED"
	StateCreditsMinted ProjectState = "CREDITS_MINTED"
)

// NewProjectStateMachine returns the allowed project transitions. Pending
// may loop back to itself when a rejection leaves it open for review.
func NewProjectStateMachine() *workflows.StateMachine[ProjectState] {
	return workflows.NewStateMachine(map[ProjectState][]ProjectState{
		StateUnregistered:  {StatePending},
		StatePending:       {StatePending, StateUnderReview, StateVerified, StateRejected},
		StateUnderReview:   {StateUnderReview, StateVerified, StateRejected},
		StateVerified:      {StateCreditsMinted},
		StateCreditsMinted: {StateCreditsMinted},
		StateRejected:      {},
	})
}

// StateOf derives the lifecycle state from a project account. A nil project
// is Unregistered.
func StateOf(p *ledger.Project) ProjectState {
	if p == nil {
		return StateUnregistered
	}
	switch p.Status {
	case ledger.ProjectVerified:
		if p.CreditsIssued > 0 {
			return StateCreditsMinted
		}
		return StateVerified
	case ledger.ProjectUnderReview:
		return StateUnderReview
	case ledger.ProjectRejected:
		return StateRejected
	default:
		return StatePending
	}
}
