package track

import (
	"fmt"
	"testing"
	"time"
)

func TestStartEndMovesToRecent(t *testing.T) {
	tr := New(10)
	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	tr.Start("t1", "Bash", "go test ./...", t0)
	if tr.ActiveCount() != 1 {
		t.Fatalf("active = %d", tr.ActiveCount())
	}

	done, ok := tr.End("t1", true, 4180, t0.Add(6*time.Second))
	if !ok {
		t.Fatal("end did not match the start")
	}
	if done.Duration != 6*time.Second {
		t.Errorf("duration = %v, want 6s", done.Duration)
	}
	if done.Tokens != 4180 {
		t.Errorf("tokens = %d, want 4180", done.Tokens)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("active after end = %d", tr.ActiveCount())
	}

	recent := tr.Recent()
	if len(recent) != 1 || recent[0].ID != "t1" || !recent[0].Success {
		t.Errorf("recent = %+v", recent)
	}
}

func TestEndWithoutStartIsDropped(t *testing.T) {
	tr := New(10)
	if _, ok := tr.End("ghost", true, 0, time.Now()); ok {
		t.Error("unmatched end should not record anything")
	}
	if len(tr.Recent()) != 0 {
		t.Error("recent should stay empty")
	}
}

func TestDuplicateStartReplaces(t *testing.T) {
	tr := New(10)
	t0 := time.Now()
	tr.Start("t1", "Bash", "first", t0)
	tr.Start("t1", "Bash", "second", t0.Add(time.Second))
	if tr.ActiveCount() != 1 {
		t.Fatalf("active = %d", tr.ActiveCount())
	}
	if tr.Active()[0].Detail != "second" {
		t.Errorf("detail = %q", tr.Active()[0].Detail)
	}
}

func TestRecentOrderAndCapacity(t *testing.T) {
	tr := New(3)
	t0 := time.Now()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		tr.Start(id, "Read", "", t0)
		tr.End(id, true, 0, t0.Add(time.Duration(i)*time.Second))
	}

	recent := tr.Recent()
	if len(recent) != 3 {
		t.Fatalf("recent len = %d, want 3", len(recent))
	}
	// Most recent first.
	for i, want := range []string{"t4", "t3", "t2"} {
		if recent[i].ID != want {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].ID, want)
		}
	}
}

func TestRecentDeduplicatesByID(t *testing.T) {
	tr := New(10)
	t0 := time.Now()

	tr.Start("t1", "Bash", "", t0)
	tr.End("t1", true, 0, t0.Add(time.Second))
	// A replay can fold the same finished call in again.
	tr.AddCompleted(ToolCall{ID: "t1", Name: "Bash", StartedAt: t0, EndedAt: t0.Add(time.Second), Success: true})

	if got := len(tr.Recent()); got != 1 {
		t.Errorf("recent len = %d, want 1", got)
	}
}

func TestForceCompleteActive(t *testing.T) {
	tr := New(10)
	t0 := time.Now()

	tr.Start("t1", "Bash", "", t0)
	tr.Start("t2", "Edit", "", t0)
	tr.Start("t3", "Write", "", t0)

	n := tr.ForceCompleteActive(t0.Add(2 * time.Second))
	if n != 3 {
		t.Errorf("forced = %d, want 3", n)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("active = %d", tr.ActiveCount())
	}
	for _, call := range tr.Recent() {
		if call.Success {
			t.Errorf("forced call %s marked successful", call.ID)
		}
		if !call.Done() {
			t.Errorf("forced call %s not finished", call.ID)
		}
	}
}

func TestActiveArrivalOrderAndLookup(t *testing.T) {
	tr := New(10)
	t0 := time.Now()
	tr.Start("a", "Bash", "", t0.Add(time.Second))
	tr.Start("b", "Read", "", t0)

	active := tr.Active()
	if active[0].ID != "a" || active[1].ID != "b" {
		t.Errorf("arrival order broken: %+v", active)
	}
	if !tr.HasActiveID("b") || tr.HasActiveID("c") {
		t.Error("HasActiveID lookup wrong")
	}

	// A finished call with the same name as a running one must not
	// satisfy the id lookup.
	tr.End("a", true, 0, t0.Add(2*time.Second))
	tr.Start("a2", "Bash", "", t0.Add(3*time.Second))
	if tr.HasActiveID("a") {
		t.Error("ended call still reported active")
	}
	if !tr.HasActiveID("a2") {
		t.Error("fresh same-named call not reported active")
	}
}

func TestSyntheticCompletedEntry(t *testing.T) {
	tr := New(10)
	now := time.Now()
	tr.AddCompleted(ToolCall{Name: "Complete", Detail: "4,180 tokens", StartedAt: now, EndedAt: now, Success: true, Synthetic: true})

	recent := tr.Recent()
	if len(recent) != 1 || !recent[0].Synthetic {
		t.Errorf("recent = %+v", recent)
	}
}
