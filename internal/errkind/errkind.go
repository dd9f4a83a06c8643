// Package errkind defines the error taxonomy of the orchestrator and
// pipeline as sentinel-wrapped kinds rather than a zoo of distinct types,
// so callers can classify with errors.Is instead of type switches.
package errkind

import "errors"

// Kind is a coarse error classification. A classified error wraps exactly
// one Kind via fmt.Errorf("...: %w", kind); not every error in the module
// is classified (gitutil's errors, for one, carry no Kind).
type Kind error

var (
	// Transient covers rate-limit, timeout, and subprocess spawn failure.
	// Rate-limit retries don't consume attempt budget; timeout and spawn
	// failures do.
	Transient Kind = errors.New("transient")

	// AgentFailure covers a CompletionRecord reporting status=failed.
	AgentFailure Kind = errors.New("agent-reported failure")

	// ProtocolViolation covers a missing or malformed CompletionRecord;
	// policy-wise it is treated the same as AgentFailure, but logged
	// distinctly since the agent, not the task logic, is at fault.
	ProtocolViolation Kind = errors.New("protocol violation")

	// Suspension marks a task that is waiting on an out-of-band answer.
	Suspension Kind = errors.New("suspended")

	// Deadlock marks a plan with no runnable tasks and at least one
	// non-terminal task blocked on a failed or suspended upstream.
	Deadlock Kind = errors.New("deadlock")

	// Configuration covers unsupported permission-flag combinations,
	// missing agent binaries, and unreadable plan documents. Always
	// fails fast at startup.
	Configuration Kind = errors.New("configuration error")

	// CrashRecovery marks a condition the startup sweep exists to fix:
	// uncommitted archival artifacts left by an interrupted process.
	CrashRecovery Kind = errors.New("crash recovery")

	// SchemaErr marks a plan document missing a required field.
	SchemaErr Kind = errors.New("schema error")
)

// Is reports whether err was produced by wrapping the given Kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
