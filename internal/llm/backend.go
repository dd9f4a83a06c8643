package llm

import (
	"context"
	"io"
)

// Backend represents an LLM execution backend
type Backend interface {
	// Name returns the backend name (e.g., "claude", "kilocode")
	Name() string

	// Execute runs the LLM with the given prompt and context files
	// Returns a reader for streaming output
	Execute(ctx context.Context, opts ExecuteOptions) (io.ReadCloser, error)

	// ExecuteInteractive runs the LLM in interactive mode (for plan command)
	ExecuteInteractive(ctx context.Context, opts ExecuteOptions) error
}

// ExecuteOptions contains options for LLM execution
type ExecuteOptions struct {
	Prompt       string
	ContextFiles []string
	Model        string
	AllowedTools []string
	WorkDir      string
	// Env, when non-nil, replaces the inherited process environment
	// entirely (already sanitized by the caller). A nil Env leaves the
	// child's environment untouched for callers that don't need isolation
	// (e.g. ExecuteInteractive for the plan-authoring CLI).
	Env []string
}
