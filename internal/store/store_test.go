package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDependencyGating(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Create(Task{Title: "Blocker"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := s.Create(Task{Title: "Blocked"})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if err := s.AddDependency(b.ID, a.ID); err != nil {
		t.Fatalf("addDependency: %v", err)
	}

	ready, err := s.Ready()
	if err != nil {
		t.Fatalf("ready: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != a.ID {
		t.Fatalf("expected only %s ready, got %+v", a.ID, ready)
	}

	if _, err := s.Done(a.ID, "", ""); err != nil {
		t.Fatalf("done: %v", err)
	}

	ready, err = s.Ready()
	if err != nil {
		t.Fatalf("ready after done: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != b.ID {
		t.Fatalf("expected only %s ready, got %+v", b.ID, ready)
	}
}

func TestCycleRejection(t *testing.T) {
	s := newTestStore(t)

	a, _ := s.Create(Task{Title: "A"})
	b, _ := s.Create(Task{Title: "B"})

	if err := s.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("addDependency a<-b: %v", err)
	}

	err := s.AddDependency(b.ID, a.ID)
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got %v", err)
	}

	got, _ := s.Find(b.ID)
	if len(got.BlockedBy) != 0 {
		t.Fatalf("store mutated despite cycle rejection: %+v", got.BlockedBy)
	}
}

func TestReopenClearsConsumedFields(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Create(Task{Title: "T"})

	if _, err := s.Start(task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.MarkConsumed(task.ID, 1, "boom"); err != nil {
		t.Fatalf("markConsumed: %v", err)
	}
	if _, err := s.Done(task.ID, "manual close", "abc123"); err != nil {
		t.Fatalf("done: %v", err)
	}

	got, err := s.Reopen(task.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got.Status != StatusOpen {
		t.Fatalf("expected open, got %s", got.Status)
	}
	if got.Reason != "" || got.CommitHash != "" || got.Consumed ||
		got.ConsumedAt != nil || got.ConsumedExitCode != nil || got.ConsumedOutput != "" {
		t.Fatalf("reopen left stale fields: %+v", got)
	}
}

func TestRetryOnlyWhenInProgressAndConsumed(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Create(Task{Title: "T"})

	if _, err := s.Retry(task.ID); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition on fresh open task, got %v", err)
	}

	if _, err := s.Start(task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.MarkConsumed(task.ID, 1, "boom"); err != nil {
		t.Fatalf("markConsumed: %v", err)
	}

	got, err := s.Retry(task.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.Status != StatusOpen || got.Consumed {
		t.Fatalf("retry did not reset state: %+v", got)
	}
}

func TestFindPrefixBoundaries(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Create(Task{Title: "Unique title for prefix test"})
	suffix := task.ID[2:] // drop "f-"

	if _, err := s.Find("f-" + suffix[:2]); !errors.Is(err, ErrAmbiguousID) {
		t.Fatalf("expected ambiguous id for 2-char prefix, got %v", err)
	}

	got, err := s.Find("f-" + suffix[:3])
	if err != nil {
		t.Fatalf("find 3-char prefix: %v", err)
	}
	if got.ID != task.ID {
		t.Fatalf("expected %s, got %s", task.ID, got.ID)
	}
}

func TestPriorityBoundaries(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Create(Task{Title: "T"})

	bad := 5
	if _, err := s.Update(task.ID, Patch{Priority: &bad}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for priority 5, got %v", err)
	}
	negative := -1
	if _, err := s.Update(task.ID, Patch{Priority: &negative}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for priority -1, got %v", err)
	}
	zero := 0
	if _, err := s.Update(task.ID, Patch{Priority: &zero}); err != nil {
		t.Fatalf("priority 0 should be accepted: %v", err)
	}
	four := 4
	if _, err := s.Update(task.ID, Patch{Priority: &four}); err != nil {
		t.Fatalf("priority 4 should be accepted: %v", err)
	}
}

func TestCreateRejectsInvalidPriority(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create(Task{Title: "T", Priority: 5}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for priority 5, got %v", err)
	}
	if _, err := s.Create(Task{Title: "T", Priority: -1}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition for priority -1, got %v", err)
	}
}

func TestCreateRejectsInvalidEnums(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Create(Task{Title: "T", Type: "nonsense"}); !errors.Is(err, ErrInvalidEnum) {
		t.Fatalf("expected ErrInvalidEnum for bad type, got %v", err)
	}
	if _, err := s.Create(Task{Title: "T", Complexity: "nonsense"}); !errors.Is(err, ErrInvalidEnum) {
		t.Fatalf("expected ErrInvalidEnum for bad complexity, got %v", err)
	}
	if _, err := s.Create(Task{Title: "T", Size: "nonsense"}); !errors.Is(err, ErrInvalidEnum) {
		t.Fatalf("expected ErrInvalidEnum for bad size, got %v", err)
	}
	if _, err := s.Create(Task{Title: "T", Size: SizeM}); err != nil {
		t.Fatalf("valid size should be accepted: %v", err)
	}
}

func TestUpdateRejectsInvalidEnums(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Create(Task{Title: "T"})

	badType := TaskType("nonsense")
	if _, err := s.Update(task.ID, Patch{Type: &badType}); !errors.Is(err, ErrInvalidEnum) {
		t.Fatalf("expected ErrInvalidEnum for bad type, got %v", err)
	}
	badComplexity := Complexity("nonsense")
	if _, err := s.Update(task.ID, Patch{Complexity: &badComplexity}); !errors.Is(err, ErrInvalidEnum) {
		t.Fatalf("expected ErrInvalidEnum for bad complexity, got %v", err)
	}
	badSize := Size("nonsense")
	if _, err := s.Update(task.ID, Patch{Size: &badSize}); !errors.Is(err, ErrInvalidEnum) {
		t.Fatalf("expected ErrInvalidEnum for bad size, got %v", err)
	}
}

func TestUpdateRejectsEmptyPatch(t *testing.T) {
	s := newTestStore(t)
	task, _ := s.Create(Task{Title: "T"})

	if _, err := s.Update(task.ID, Patch{}); !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("expected ErrEmptyPatch for a no-op update, got %v", err)
	}
}

func TestEmptyDescriptionClearsField(t *testing.T) {
	s := newTestStore(t)
	desc := "something"
	task, _ := s.Create(Task{Title: "T", Description: desc})

	empty := ""
	got, err := s.Update(task.ID, Patch{Description: &empty})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Description != "" {
		t.Fatalf("expected cleared description, got %q", got.Description)
	}
}

func TestAddRemoveDependencyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Create(Task{Title: "A"})
	b, _ := s.Create(Task{Title: "B"})

	if err := s.AddDependency(a.ID, b.ID); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.RemoveDependency(a.ID, b.ID, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ := s.Find(a.ID)
	if len(got.BlockedBy) != 0 {
		t.Fatalf("expected no blockers left, got %+v", got.BlockedBy)
	}
}

func TestNoTaskBothReadyAndBlocked(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.Create(Task{Title: "A"})
	b, _ := s.Create(Task{Title: "B"})
	_ = s.AddDependency(b.ID, a.ID)

	ready, _ := s.Ready()
	blocked, _ := s.Blocked()

	readySet := map[string]bool{}
	for _, rt := range ready {
		readySet[rt.ID] = true
	}
	for _, bt := range blocked {
		if readySet[bt.ID] {
			t.Fatalf("task %s is both ready and blocked", bt.ID)
		}
	}
}
