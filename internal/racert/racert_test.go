package racert

import "testing"

// TestRaceScenario implements §8 scenario 5: a global accessed (write) by
// thread 300, then (write) by 400 with no lock held reaches
// SharedModified; the *next* write by 400 with an empty lockset is
// reported, and the report count increases by exactly 1.
func TestRaceScenario(t *testing.T) {
	tr := NewTracker()
	const varID = int64(1)
	tr.RegisterGlobalVar(varID, "__race.global.counter", 42)

	tr.UpdateSharedMem(Write, 300, varID, 10)
	if got := tr.State(varID); got != Exclusive {
		t.Fatalf("after first write: want Exclusive, got %s", got)
	}

	tr.UpdateSharedMem(Write, 400, varID, 11)
	if got := tr.State(varID); got != SharedModified {
		t.Fatalf("after second write by new thread: want SharedModified, got %s", got)
	}
	if n := len(tr.Reports()); n != 0 {
		t.Fatalf("no report expected yet, got %d", n)
	}

	tr.UpdateSharedMem(Write, 400, varID, 12)
	reports := tr.Reports()
	if len(reports) != 1 {
		t.Fatalf("want exactly 1 report, got %d", len(reports))
	}
	if reports[0].VarName != "counter" || reports[0].DeclLine != 42 || reports[0].UseLine != 12 {
		t.Fatalf("unexpected report: %+v", reports[0])
	}

	// A third repeat access at the same line must not duplicate the report.
	tr.UpdateSharedMem(Write, 400, varID, 12)
	if n := len(tr.Reports()); n != 1 {
		t.Fatalf("report must be deduplicated by (thread,var,decl,use): got %d", n)
	}
}

// TestNeverTransitionsBackToExclusive covers §8's invariant: the state
// machine never moves from SharedModified back to Exclusive.
func TestNeverTransitionsBackToExclusive(t *testing.T) {
	tr := NewTracker()
	const varID = int64(1)
	tr.RegisterGlobalVar(varID, "v", 1)

	tr.UpdateSharedMem(Write, 1, varID, 1)
	tr.UpdateSharedMem(Write, 2, varID, 2)
	if got := tr.State(varID); got != SharedModified {
		t.Fatalf("want SharedModified, got %s", got)
	}
	for i := 0; i < 5; i++ {
		tr.UpdateSharedMem(Write, int64(i+10), varID, i+3)
		if got := tr.State(varID); got != SharedModified {
			t.Fatalf("state regressed from SharedModified to %s", got)
		}
	}
}

// TestLocksetSuppressesReport checks that a variable always accessed under
// a common lock never reports, matching the Eraser lockset-intersection
// rule §4.7 relies on.
func TestLocksetSuppressesReport(t *testing.T) {
	tr := NewTracker()
	const varID = int64(1)
	const lockID = int64(9)
	tr.RegisterGlobalVar(varID, "v", 1)
	tr.RegisterCandidateLock(varID, lockID, "mu", 2)

	tr.UpdateLockHeld(Lock, 1, lockID)
	tr.UpdateSharedMem(Write, 1, varID, 10)
	tr.UpdateLockHeld(Unlock, 1, lockID)

	tr.UpdateLockHeld(Lock, 2, lockID)
	tr.UpdateSharedMem(Write, 2, varID, 11)
	tr.UpdateLockHeld(Unlock, 2, lockID)

	tr.UpdateLockHeld(Lock, 2, lockID)
	tr.UpdateSharedMem(Write, 2, varID, 12)
	tr.UpdateLockHeld(Unlock, 2, lockID)

	if n := len(tr.Reports()); n != 0 {
		t.Fatalf("want no reports while a common lock is always held, got %d", n)
	}
}
