// Package engine drives the quality-gated drafting pipeline: plan,
// implement, verify, validate, learn. It is the only component that
// retries anything, and every retry is bounded by a configured ceiling.
//
// The control loop is an explicit finite-state machine. Each phase runs
// one stage call (or one gate decision) and reports an outcome; the pure
// transition function in fsm.go decides the next phase. The reachable
// phases are:
//
//	Planning ──▶ Implementing ──▶ Verifying ──▶ Validating ──▶ Learning ──▶ Terminated
//	    ▲                            │                │
//	    └────────── retry ───────────┴────────────────┘
//
// Verification failures and validation rejections both route back to
// Planning. The reasoning counter is cumulative across validation
// rejections, so the total number of plan/implement/verify passes is
// bounded by reasoning_max_iterations no matter how validation behaves,
// and validation itself is bounded by validation_max_iterations. The two
// ceilings together give a hard termination bound for every run.
//
// Before each state-growing stage call the engine consults the budget
// guard; at the threshold it compacts the shared state, and if
// compaction cannot relieve pressure the run aborts as ResourceExhausted
// instead of looping.
//
// Stage backends never retry themselves. A backend error, timeout, or
// non-conforming output surfaces immediately as a CapabilityError
// result; quality misses and validation rejections are expected,
// non-fatal terminal states carrying the best draft and the last report
// respectively. External cancellation is observed between stage
// boundaries: a cancelled run performs no sink write and no pattern
// write.
//
// Pattern learning and the audit trail are best-effort. Their failures
// are logged and recorded as diagnostics but never change the Result.
package engine
