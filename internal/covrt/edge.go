// Package covrt implements the two runtimes the design groups under
// "coverage": edge-hit accounting for the fuzzer's feedback loop (C2) and
// line/branch/function hit aggregation for human-readable reports (C6).
// Grounded on fuzzer_runtime/src/coverage.rs (EdgeCoverage) and
// coverage_runtime/src/{coverage_runtime,coverage_internal}.rs.
package covrt

import (
	"lbe/internal/shmem"
)

// EdgeCoverage maintains the shared edge-hit bitmap and the auxiliary
// scratch state (prev_loc, new-coverage flag, visited-edge window) that the
// fuzzer's host process reads between iterations. It is intentionally not
// synchronized: per §5, the fork-server serializes exactly one child at a
// time, so the target's callbacks and the host's between-run reads never
// race.
type EdgeCoverage struct {
	CovMap *shmem.Region // cov_map[edge_id], saturating 8-bit counters
	Aux    *shmem.Region // prev_loc / new_coverage_flag / visit bookkeeping
}

// TraceEdge implements §3's edge hash and §4.3's trace_edge callback: it
// reads prev_loc, folds it with curLoc into an edge id, rotates prev_loc,
// records the edge as newly visited this window if it wasn't already, flags
// first-ever hits, and saturates the per-edge counter.
//
// The design deliberately preserves `prev_loc <- cur_loc >> 1` rather than
// the canonical AFL `prev_loc <- (cur_loc >> 1) ^ cur_loc` scheme (§9 open
// question i); this is not a bug to "fix" during the rewrite.
func (e *EdgeCoverage) TraceEdge(curLoc uint64) {
	lo, _ := e.Aux.ReadU128(shmem.AuxPrevLoc)
	prevLoc := lo
	cov := e.CovMap.Bytes()
	edge := int((curLoc ^ prevLoc) % uint64(len(cov)))
	e.Aux.WriteU128(shmem.AuxPrevLoc, curLoc>>1, 0)

	visited := e.Aux.ReadU64(shmem.AuxVisitMark)
	alreadyVisited := false
	for i := uint64(0); i < visited; i++ {
		off := shmem.AuxVisitedEdges + int(i)*shmem.AuxVisitedEdgeSize
		if e.Aux.ReadU64(off) == uint64(edge) {
			alreadyVisited = true
			break
		}
	}
	if !alreadyVisited {
		off := shmem.AuxVisitedEdges + int(visited)*shmem.AuxVisitedEdgeSize
		e.Aux.WriteU64(off, uint64(edge))
		e.Aux.WriteU64(shmem.AuxVisitMark, visited+1)
	}

	if cov[edge] == 0 {
		e.Aux.WriteU64(shmem.AuxNewCoverageFlag, 1)
		count := e.Aux.ReadU64(shmem.AuxVisitEdgesCount)
		e.Aux.WriteU64(shmem.AuxVisitEdgesCount, count+1)
	}
	if cov[edge] < 0xff {
		cov[edge]++
	}
}

// NewCoverage reports whether any edge visited since the last clear was
// seen for the first time.
func (e *EdgeCoverage) NewCoverage() bool {
	return e.Aux.ReadU64(shmem.AuxNewCoverageFlag) != 0
}

// ClearNewCoverage resets the new-coverage flag, called by the host between
// iterations (§4.4 step 6).
func (e *EdgeCoverage) ClearNewCoverage() {
	e.Aux.WriteU64(shmem.AuxNewCoverageFlag, 0)
}

// VisitMark returns how many distinct edges were visited in the current
// window.
func (e *EdgeCoverage) VisitMark() uint64 {
	return e.Aux.ReadU64(shmem.AuxVisitMark)
}

// VisitedEdge returns the edge id recorded at index i (0-based) of the
// current visit window.
func (e *EdgeCoverage) VisitedEdge(i uint64) uint64 {
	return e.Aux.ReadU64(shmem.AuxVisitedEdges + int(i)*shmem.AuxVisitedEdgeSize)
}

// ClearVisitedEdges zeroes the visited-edge window and resets its count,
// called by the host alongside ClearNewCoverage.
func (e *EdgeCoverage) ClearVisitedEdges() {
	n := e.Aux.ReadU64(shmem.AuxVisitMark)
	for i := uint64(0); i < n; i++ {
		e.Aux.WriteU64(shmem.AuxVisitedEdges+int(i)*shmem.AuxVisitedEdgeSize, 0)
	}
	e.Aux.WriteU64(shmem.AuxVisitMark, 0)
}

// HitCount returns the raw saturating hit counter for edge.
func (e *EdgeCoverage) HitCount(edge uint64) byte {
	return e.CovMap.Bytes()[edge]
}
