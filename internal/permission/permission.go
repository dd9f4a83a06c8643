// Package permission defines the per-agent-role permission profiles that
// constrain a spawned agent's tool access. Every profile
// suppresses interactive approval prompts, since the orchestrator's
// subprocess runs headless with stdin closed; a profile that would leave
// approval interactive is rejected as a configuration error at startup
// rather than allowed to hang on an approval the child can never receive.
package permission

import (
	"fmt"

	"github.com/foreman-run/foreman/internal/errkind"
)

// Profile names one of the four permission roles an agent can run under.
type Profile string

const (
	ReadOnly Profile = "read-only"
	Write    Profile = "write"
	Verify   Profile = "verify"
	Design   Profile = "design"
)

// Spec is the resolved set of constraints a profile applies to a spawn.
type Spec struct {
	Profile          Profile
	AllowedTools     []string
	ShellAllowed     bool
	ShellMutating    bool
	EditAllowed      bool
	NetworkAllowed   bool
	WritePathGlobs   []string // non-empty only for Design: write confined to these paths
	SuppressPrompts  bool
}

// nonMutatingShellTools is the read/search tool set shared by every
// profile; Write and Design add to it.
var nonMutatingShellTools = []string{"Read", "Glob", "Grep"}

// Resolve returns the Spec for a named profile, or a Configuration error
// if the name is unrecognized.
func Resolve(p Profile) (*Spec, error) {
	switch p {
	case ReadOnly:
		return &Spec{
			Profile:         ReadOnly,
			AllowedTools:    append([]string{}, nonMutatingShellTools...),
			ShellAllowed:    true,
			ShellMutating:   false,
			EditAllowed:     false,
			NetworkAllowed:  false,
			SuppressPrompts: true,
		}, nil
	case Write:
		return &Spec{
			Profile:         Write,
			AllowedTools:    append(append([]string{}, nonMutatingShellTools...), "Edit", "Write"),
			ShellAllowed:    true,
			ShellMutating:   true, // build/test commands only; caller supplies the allow-list
			EditAllowed:     true,
			NetworkAllowed:  false,
			SuppressPrompts: true,
		}, nil
	case Verify:
		return &Spec{
			Profile:         Verify,
			AllowedTools:    append([]string{}, nonMutatingShellTools...),
			ShellAllowed:    true, // for running tests
			ShellMutating:   false,
			EditAllowed:     false,
			NetworkAllowed:  false,
			SuppressPrompts: true,
		}, nil
	case Design:
		return &Spec{
			Profile:         Design,
			AllowedTools:    append(append([]string{}, nonMutatingShellTools...), "Write"),
			ShellAllowed:    false,
			EditAllowed:     true,
			NetworkAllowed:  false,
			WritePathGlobs:  []string{"docs/**", "design/**", "*.design.md"},
			SuppressPrompts: true,
		}, nil
	default:
		return nil, fmt.Errorf("unknown permission profile %q: %w", p, errkind.Configuration)
	}
}

// ValidateHeadless rejects any combination that would leave approval
// prompts interactive with a closed stdin. Every profile constructed by Resolve already
// sets SuppressPrompts, so this only fires for externally-constructed or
// mutated Specs (e.g. config overrides).
func ValidateHeadless(s *Spec) error {
	if !s.SuppressPrompts {
		return fmt.Errorf("profile %s leaves approval prompts interactive with closed stdin: %w", s.Profile, errkind.Configuration)
	}
	if s.NetworkAllowed && s.Profile != Write {
		// Only an explicit, deliberate override should ever enable
		// network access; silently doing so for a role that didn't ask
		// for it is itself a misconfiguration worth failing fast on.
		return fmt.Errorf("profile %s unexpectedly allows network access: %w", s.Profile, errkind.Configuration)
	}
	return nil
}
