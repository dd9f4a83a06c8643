package semaphore

import "testing"

func TestRaisePresentClearStale(t *testing.T) {
	dir := t.TempDir()

	if Present(dir) {
		t.Fatal("Present() = true before Raise() was ever called")
	}

	if err := Raise(dir); err != nil {
		t.Fatalf("Raise() unexpected error = %v", err)
	}
	if !Present(dir) {
		t.Fatal("Present() = false right after Raise()")
	}

	if err := ClearStale(dir); err != nil {
		t.Fatalf("ClearStale() unexpected error = %v", err)
	}
	if Present(dir) {
		t.Fatal("Present() = true after ClearStale()")
	}
}

func TestClearStaleNoOpWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	if err := ClearStale(dir); err != nil {
		t.Errorf("ClearStale() on an absent semaphore = %v, want nil", err)
	}
}
