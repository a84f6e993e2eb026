package health

import "testing"

func TestCooldownAfterMaxAttempts(t *testing.T) {
	tr := New(3, 300)

	for i := 0; i < 2; i++ {
		tr.RecordFailure("claude")
	}
	if !tr.CanSpawn("claude") {
		t.Fatalf("expected spawn still allowed after 2 failures")
	}
	if got := tr.Get("claude").HealthStatus; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}

	tr.RecordFailure("claude")
	if tr.CanSpawn("claude") {
		t.Fatalf("expected cooldown after 3rd consecutive failure")
	}
	if got := tr.Get("claude").HealthStatus; got != StatusCooldown {
		t.Fatalf("expected cooldown, got %s", got)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	tr := New(3, 300)
	tr.RecordFailure("claude")
	tr.RecordFailure("claude")
	tr.RecordSuccess("claude")

	h := tr.Get("claude")
	if h.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset to 0, got %d", h.ConsecutiveFailures)
	}
	if h.HealthStatus != StatusHealthy {
		t.Fatalf("expected healthy, got %s", h.HealthStatus)
	}
}

func TestSpawnCounterIncrements(t *testing.T) {
	tr := New(3, 300)
	tr.RecordSpawn("claude")
	tr.RecordSpawn("claude")
	if got := tr.Get("claude").Spawns; got != 2 {
		t.Fatalf("expected 2 spawns, got %d", got)
	}
}
