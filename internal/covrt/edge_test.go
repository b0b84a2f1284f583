package covrt

import (
	"os"
	"testing"

	"lbe/internal/shmem"
)

func newTestEdgeCoverage(t *testing.T) *EdgeCoverage {
	t.Helper()
	covMap, err := shmem.Create(os.TempDir(), "covrt-test-cov", 64)
	if err != nil {
		t.Fatalf("shmem.Create cov map: %v", err)
	}
	t.Cleanup(func() {
		covMap.Close()
		os.Remove(covMap.Path)
	})

	aux, err := shmem.Create(os.TempDir(), "covrt-test-aux", 4096)
	if err != nil {
		t.Fatalf("shmem.Create aux: %v", err)
	}
	t.Cleanup(func() {
		aux.Close()
		os.Remove(aux.Path)
	})

	return &EdgeCoverage{CovMap: covMap, Aux: aux}
}

// TestTraceEdgeDeterministic implements §8's invariant: the edge hash is
// deterministic given equal prev-loc and cur-loc.
func TestTraceEdgeDeterministic(t *testing.T) {
	e1 := newTestEdgeCoverage(t)
	e2 := newTestEdgeCoverage(t)

	e1.TraceEdge(100)
	e1.TraceEdge(200)
	e2.TraceEdge(100)
	e2.TraceEdge(200)

	if e1.VisitedEdge(0) != e2.VisitedEdge(0) {
		t.Fatalf("first edge id diverged: %d vs %d", e1.VisitedEdge(0), e2.VisitedEdge(0))
	}
	if e1.VisitedEdge(1) != e2.VisitedEdge(1) {
		t.Fatalf("second edge id diverged: %d vs %d", e1.VisitedEdge(1), e2.VisitedEdge(1))
	}
}

// TestTraceEdgeNewCoverageFlagOncePerWindow implements §3's invariant: a
// newly seen edge sets new_coverage_flag exactly once per observation
// window, and the flag clears once the host acknowledges it.
//
// Because prev_loc <- cur_loc >> 1 regardless of its prior value (§9 open
// question i), repeating the same cur_loc lands on one edge for the first
// call and a second, different, steady-state edge for every call after
// that — so "revisit" here means the third call onward, once that
// steady-state edge has already been recorded once.
func TestTraceEdgeNewCoverageFlagOncePerWindow(t *testing.T) {
	e := newTestEdgeCoverage(t)

	e.TraceEdge(42)
	if !e.NewCoverage() {
		t.Fatal("first visit to an edge must raise the new-coverage flag")
	}
	e.ClearNewCoverage()
	e.ClearVisitedEdges()

	e.TraceEdge(42)
	if !e.NewCoverage() {
		t.Fatal("the steady-state edge's first visit must also raise the flag")
	}
	e.ClearNewCoverage()
	e.ClearVisitedEdges()

	e.TraceEdge(42)
	if e.NewCoverage() {
		t.Fatal("revisiting the now-stable edge must not re-raise new-coverage")
	}
}

// TestTraceEdgeVisitedEdgesDedupWithinWindow checks that revisiting the
// same edge within one window does not duplicate its entry in the visited
// list or inflate visit_mark. The first call warms prev_loc up to its
// steady state for a constant cur_loc (§9 open question i); the second and
// third calls then land on the same edge.
func TestTraceEdgeVisitedEdgesDedupWithinWindow(t *testing.T) {
	e := newTestEdgeCoverage(t)

	e.TraceEdge(7) // warm-up: establishes the steady-state prev_loc
	e.TraceEdge(7) // steady-state edge, first visit this window
	e.TraceEdge(7) // same steady-state edge, must not duplicate

	if got := e.VisitMark(); got != 2 {
		t.Fatalf("visit_mark = %d, want 2 (warm-up edge + one distinct steady-state edge)", got)
	}
}

// TestTraceEdgeHitCountSaturates implements §3's "saturating 8-bit hit
// counters" requirement: the per-edge counter never wraps past 0xff.
//
// Repeating the same cur_loc stabilizes prev_loc after the first call
// (§9 open question i: prev_loc <- cur_loc >> 1, not XORed with cur_loc),
// so the edge id itself stabilizes from the second call onward; that
// steady-state edge is the one driven to saturation here.
func TestTraceEdgeHitCountSaturates(t *testing.T) {
	e := newTestEdgeCoverage(t)

	for i := 0; i < 300; i++ {
		e.TraceEdge(9)
	}
	steadyStateEdge := e.VisitedEdge(1)
	if got := e.HitCount(steadyStateEdge); got != 0xff {
		t.Fatalf("hit count = %d, want saturated at 0xff", got)
	}
}
