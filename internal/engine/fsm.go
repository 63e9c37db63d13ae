package engine

// Phase is one state of the run's finite-state machine.
type Phase string

const (
	// PhasePlanning decomposes the request into a plan. It is also the
	// re-entry point after a failed verification or a rejected validation,
	// which makes it the place the reasoning ceiling is enforced.
	PhasePlanning Phase = "planning"

	// PhaseImplementing produces a draft from the current plan.
	PhaseImplementing Phase = "implementing"

	// PhaseVerifying scores the draft against the pass threshold.
	PhaseVerifying Phase = "verifying"

	// PhaseValidating renders the final accept/reject judgment.
	PhaseValidating Phase = "validating"

	// PhaseLearning publishes the approved draft and appends the learned
	// pattern.
	PhaseLearning Phase = "learning"

	// PhaseTerminated ends the run; the Result kind says how.
	PhaseTerminated Phase = "terminated"
)

// Outcome is what a phase reports back to the transition function.
type Outcome string

const (
	// OutcomeAdvance moves to the next phase in pipeline order.
	OutcomeAdvance Outcome = "advance"

	// OutcomeRetry routes back to Planning for another reasoning pass.
	// Only Verifying and Validating may retry.
	OutcomeRetry Outcome = "retry"

	// OutcomeTerminate ends the run from any phase.
	OutcomeTerminate Outcome = "terminate"
)

// transitions is the full legal-move table. Anything absent is illegal.
var transitions = map[Phase]map[Outcome]Phase{
	PhasePlanning: {
		OutcomeAdvance:   PhaseImplementing,
		OutcomeTerminate: PhaseTerminated,
	},
	PhaseImplementing: {
		OutcomeAdvance:   PhaseVerifying,
		OutcomeTerminate: PhaseTerminated,
	},
	PhaseVerifying: {
		OutcomeAdvance:   PhaseValidating,
		OutcomeRetry:     PhasePlanning,
		OutcomeTerminate: PhaseTerminated,
	},
	PhaseValidating: {
		OutcomeAdvance:   PhaseLearning,
		OutcomeRetry:     PhasePlanning,
		OutcomeTerminate: PhaseTerminated,
	},
	PhaseLearning: {
		OutcomeAdvance:   PhaseTerminated,
		OutcomeTerminate: PhaseTerminated,
	},
}

// CanTransition reports whether outcome o is a legal move from phase p.
func CanTransition(p Phase, o Outcome) bool {
	moves, ok := transitions[p]
	if !ok {
		return false
	}
	_, ok = moves[o]
	return ok
}

// Next is the pure transition function of the run FSM. Illegal moves
// collapse to PhaseTerminated so the loop can never wedge.
func Next(p Phase, o Outcome) Phase {
	if moves, ok := transitions[p]; ok {
		if next, ok := moves[o]; ok {
			return next
		}
	}
	return PhaseTerminated
}
