package invoker

import (
	"os"
	"testing"
)

func TestBuildEnvStripsParentAgentContext(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	t.Setenv("CLAUDE_SESSION_ID", "abc")
	t.Setenv("ANTHROPIC_AGENT_ROLE", "write")
	t.Setenv("FOREMAN_TEST_MARKER", "kept")

	env := BuildEnv()

	for _, leaked := range []string{"CLAUDECODE", "CLAUDE_SESSION_ID", "ANTHROPIC_AGENT_ROLE"} {
		if _, ok := env[leaked]; ok {
			t.Errorf("BuildEnv() leaked parent-agent variable %q", leaked)
		}
	}
	if env["FOREMAN_TEST_MARKER"] != "kept" {
		t.Errorf("BuildEnv() dropped an unrelated variable, got %v", env["FOREMAN_TEST_MARKER"])
	}
}

func TestEnvSliceRendersKeyValuePairs(t *testing.T) {
	e := &Environment{Vars: map[string]string{"A": "1", "B": "2"}}
	slice := e.EnvSlice()
	if len(slice) != 2 {
		t.Fatalf("EnvSlice() len = %d, want 2", len(slice))
	}
	got := map[string]bool{}
	for _, kv := range slice {
		got[kv] = true
	}
	if !got["A=1"] || !got["B=2"] {
		t.Errorf("EnvSlice() = %v, want A=1 and B=2", slice)
	}
}

func TestNewEnvironmentRejectsUnresolvableBinary(t *testing.T) {
	dir := t.TempDir()
	_, err := NewEnvironment(dir, "definitely-not-a-real-binary-xyz", dir)
	if err == nil {
		t.Fatal("NewEnvironment() expected error for an unresolvable binary")
	}
}

func TestNewEnvironmentAcceptsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	self, err := os.Executable()
	if err != nil {
		t.Skipf("cannot resolve test binary path: %v", err)
	}
	env, err := NewEnvironment(dir, self, dir)
	if err != nil {
		t.Fatalf("NewEnvironment() unexpected error = %v", err)
	}
	if env.BinaryPath != self {
		t.Errorf("BinaryPath = %q, want %q", env.BinaryPath, self)
	}
}
