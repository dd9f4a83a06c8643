package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestQuiescenceWatcherFiresAfterDebounceWithNoEvents(t *testing.T) {
	dir := t.TempDir()
	w, err := NewQuiescenceWatcher([]string{dir}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewQuiescenceWatcher() unexpected error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if !w.WaitForQuiescence(ctx) {
		t.Fatal("WaitForQuiescence() returned false, want true for a quiet directory")
	}
}

func TestQuiescenceWatcherReturnsFalseOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	w, err := NewQuiescenceWatcher([]string{dir}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewQuiescenceWatcher() unexpected error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if w.WaitForQuiescence(ctx) {
		t.Fatal("WaitForQuiescence() returned true, want false when ctx is already cancelled")
	}
}

func TestQuiescenceWatcherDebouncesActivity(t *testing.T) {
	dir := t.TempDir()
	w, err := NewQuiescenceWatcher([]string{dir}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewQuiescenceWatcher() unexpected error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644)
	}()

	start := time.Now()
	if !w.WaitForQuiescence(ctx) {
		t.Fatal("WaitForQuiescence() returned false, want true")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("WaitForQuiescence() returned after %v, want it to wait out the debounce window following the event", elapsed)
	}
}

func TestNewQuiescenceWatcherRejectsMissingDir(t *testing.T) {
	_, err := NewQuiescenceWatcher([]string{filepath.Join(t.TempDir(), "nope")}, time.Second)
	if err == nil {
		t.Fatal("NewQuiescenceWatcher() expected error for a nonexistent directory")
	}
}
