package invoker

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/foreman-run/foreman/internal/errkind"
	"github.com/foreman-run/foreman/internal/llm"
	"github.com/foreman-run/foreman/internal/utils"
)

// Environment is the immutable, once-constructed value that replaces the
// process-wide mutable singletons (resolved agent binary, loaded config)
// the translation notes call out. It is built once at startup and
// threaded through every invocation rather than read from hidden globals.
type Environment struct {
	ProjectRoot  string
	BinaryPath   string
	RolePreambleDir string
	Vars         map[string]string
}

// parentContextPrefixes lists environment variable prefixes that would
// leak this process's own agent context into the spawned child, causing
// it to misdetect that it is running nested inside another agent.
var parentContextPrefixes = []string{"CLAUDECODE", "CLAUDE_", "ANTHROPIC_AGENT_"}

// NewEnvironment resolves the agent binary once and captures a sanitized
// environment snapshot for every subsequent spawn.
func NewEnvironment(projectRoot, configuredBinary, rolePreambleDir string) (*Environment, error) {
	resolved := utils.ResolveBinaryPath(configuredBinary)
	if _, err := os.Stat(resolved); err != nil {
		if _, lookErr := exec.LookPath(resolved); lookErr != nil {
			return nil, fmt.Errorf("%v: %w", utils.AgentNotFoundError(configuredBinary), errkind.Configuration)
		}
	}

	return &Environment{
		ProjectRoot:     projectRoot,
		BinaryPath:      resolved,
		RolePreambleDir: rolePreambleDir,
		Vars:            BuildEnv(),
	}, nil
}

// BuildEnv filters the current process environment to strip anything that
// would cause the child to detect a parent-agent context.
func BuildEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if hasParentContextPrefix(parts[0]) {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func hasParentContextPrefix(key string) bool {
	for _, prefix := range parentContextPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// EnvSlice renders Vars in the os/exec Cmd.Env format.
func (e *Environment) EnvSlice() []string {
	out := make([]string, 0, len(e.Vars))
	for k, v := range e.Vars {
		out = append(out, k+"="+v)
	}
	return out
}

// Backend resolves the llm.Backend bound to this environment's binary.
func (e *Environment) Backend() llm.Backend {
	return llm.NewClaude(e.BinaryPath)
}
