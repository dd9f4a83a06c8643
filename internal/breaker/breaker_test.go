package breaker

import (
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	b := New(0, 0)
	if b.threshold != DefaultThreshold {
		t.Errorf("threshold = %d, want %d", b.threshold, DefaultThreshold)
	}
	if b.cooldown != DefaultCooldown {
		t.Errorf("cooldown = %v, want %v", b.cooldown, DefaultCooldown)
	}
}

func TestOpensAtThresholdAndClosesAfterCooldown(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := New(3, 10*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure(now)
		if b.Open(now) {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}

	b.RecordFailure(now)
	if !b.Open(now) {
		t.Fatal("breaker should be open immediately after hitting the threshold")
	}
	if b.ConsecutiveFailures() != 3 {
		t.Errorf("ConsecutiveFailures() = %d, want 3", b.ConsecutiveFailures())
	}

	later := now.Add(11 * time.Second)
	if b.Open(later) {
		t.Error("breaker should have closed after the cooldown window elapsed")
	}
}

func TestRecordSuccessResetsStreak(t *testing.T) {
	now := time.Now()
	b := New(3, time.Second)
	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordSuccess()
	if b.ConsecutiveFailures() != 0 {
		t.Errorf("ConsecutiveFailures() after success = %d, want 0", b.ConsecutiveFailures())
	}
	b.RecordFailure(now)
	if b.Open(now) {
		t.Error("breaker should not be open after only one failure post-reset")
	}
}

func TestOpenUntilZeroValueBeforeAnyOpen(t *testing.T) {
	b := New(3, time.Second)
	if !b.OpenUntil().IsZero() {
		t.Errorf("OpenUntil() = %v, want zero value before the breaker ever opens", b.OpenUntil())
	}
}
