// Package racert is the data-race detector runtime (C4): the Eraser-style
// lockset algorithm augmented with the four-state finite machine of §4.7.
// Grounded on race_runtime/src/{state,runtime}.rs, which keep per-variable
// and per-lock *metadata* (declaration line, source name) in a separate
// Registry from the lockset/state Tracker proper — this package preserves
// that split (SUPPLEMENTED FEATURES) because the report formatter needs
// the metadata after the tracker's sets have moved on.
package racert

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/sasha-s/go-deadlock"

	"lbe/internal/irnames"
)

// LockKind distinguishes a lock/unlock callback, matching §4.1's
// race_update_lock_held(kind, ...).
type LockKind int8

const (
	Lock LockKind = iota + 1
	Unlock
)

// AccessOp distinguishes a read/write callback, matching
// race_update_shared_mem's implicit read/write tagging.
type AccessOp int8

const (
	Read AccessOp = iota
	Write
)

// State is one of the four points in §4.7's finite state machine.
type State int

const (
	Virgin State = iota
	Exclusive
	Shared
	SharedModified
)

func (s State) String() string {
	switch s {
	case Virgin:
		return "virgin"
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	case SharedModified:
		return "shared-modified"
	default:
		return "unknown"
	}
}

// varState is the per-variable tracker entry: current lockset, the thread
// ids that have accessed it, and its FSM state.
type varState struct {
	lockset    map[int64]struct{}
	threads    map[int64]struct{}
	state      State
}

// globalVarMeta and lockMeta are the Registry half of the split: declared
// name and source line, looked up only when a report is formatted.
type globalVarMeta struct {
	name     string
	declLine int
}

type lockMeta struct {
	name     string
	declLine int
}

// Report is a deduplicated race finding, unique by (ThreadID, VarID,
// DeclLine, UseLine) per §3/§4.7.
type Report struct {
	ThreadID    int64
	VarName     string
	VarID       int64
	DeclLine    int
	UseLine     int
	RelatedLocks []lockMeta
}

type reportKey struct {
	threadID int64
	varID    int64
	declLine int
	useLine  int
}

// Tracker is the process-wide race-detector state. All mutation goes
// through its methods under a single process-wide lock (§5: "All
// lockset/state structures are protected by a single process-wide mutex.
// Each instrumentation callback acquires and releases it; no hierarchical
// locking is required"), using go-deadlock as the rest of this project
// does for every such shared-state lock.
type Tracker struct {
	mu deadlock.Mutex

	globalMeta map[int64]globalVarMeta
	lockMeta   map[int64]lockMeta

	initLockset map[int64]map[int64]struct{} // var id -> candidate locks, fixed at registration
	vars        map[int64]*varState
	held        map[int64]map[int64]struct{} // thread id -> held lock ids

	reported map[reportKey]struct{}
	reports  []Report
}

// NewTracker returns an empty race tracker.
func NewTracker() *Tracker {
	return &Tracker{
		globalMeta:  make(map[int64]globalVarMeta),
		lockMeta:    make(map[int64]lockMeta),
		initLockset: make(map[int64]map[int64]struct{}),
		vars:        make(map[int64]*varState),
		held:        make(map[int64]map[int64]struct{}),
		reported:    make(map[reportKey]struct{}),
	}
}

// stripGlobalPrefix implements the report-path name normalization: the
// debug name carries the reserved "__race.global." prefix (irnames); the
// report shows the bare name, folded to a consistent form with
// github.com/iancoleman/strcase as the rest of this project's synthesized
// names are.
func stripGlobalPrefix(name string) string {
	trimmed := strings.TrimPrefix(name, irnames.RaceGlobalPrefix)
	return strcase.ToSnake(trimmed)
}

// RegisterGlobalVar implements race_init_candidate_lockset_global_var: it
// records a global's metadata and initializes its FSM state to Virgin.
func (t *Tracker) RegisterGlobalVar(varID int64, name string, declLine int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.globalMeta[varID] = globalVarMeta{name: stripGlobalPrefix(name), declLine: declLine}
	t.vars[varID] = &varState{
		lockset: make(map[int64]struct{}),
		threads: make(map[int64]struct{}),
		state:   Virgin,
	}
}

// RegisterCandidateLock implements race_init_candidate_lockset_lock_var:
// associates lockID with varID's candidate lockset and records the lock's
// metadata. The candidate lockset is fixed at registration time and
// reported unchanged even after the live lockset narrows.
func (t *Tracker) RegisterCandidateLock(varID int64, lockID int64, lockName string, lockDeclLine int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockMeta[lockID] = lockMeta{name: stripGlobalPrefix(lockName), declLine: lockDeclLine}
	if t.initLockset[varID] == nil {
		t.initLockset[varID] = make(map[int64]struct{})
	}
	t.initLockset[varID][lockID] = struct{}{}
	if v, ok := t.vars[varID]; ok {
		v.lockset[lockID] = struct{}{}
	}
}

// UpdateLockHeld implements race_update_lock_held: on Lock, add lockID to
// threadID's held set; on Unlock, remove it.
func (t *Tracker) UpdateLockHeld(kind LockKind, threadID, lockID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.held[threadID]
	if !ok {
		set = make(map[int64]struct{})
		t.held[threadID] = set
	}
	switch kind {
	case Lock:
		set[lockID] = struct{}{}
	case Unlock:
		delete(set, lockID)
	}
}

// UpdateSharedMem implements race_update_shared_mem: intersects varID's
// live lockset with threadID's currently-held locks, then runs the §4.7
// state transition, reporting a race if the machine finds one.
func (t *Tracker) UpdateSharedMem(op AccessOp, threadID, varID int64, line int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.vars[varID]
	if !ok {
		return
	}

	held := t.held[threadID]
	intersected := make(map[int64]struct{})
	for l := range v.lockset {
		if _, holds := held[l]; holds {
			intersected[l] = struct{}{}
		}
	}
	v.lockset = intersected

	t.transition(op, threadID, varID, v, line)
}

// transition implements the four-state FSM of §4.7. Caller holds t.mu.
func (t *Tracker) transition(op AccessOp, threadID, varID int64, v *varState, line int) {
	_, seenThread := v.threads[threadID]

	switch op {
	case Write:
		switch v.state {
		case Virgin:
			v.state = Exclusive
			v.threads[threadID] = struct{}{}
		case Exclusive:
			if !seenThread {
				v.state = SharedModified
				v.threads[threadID] = struct{}{}
			}
		case Shared:
			v.state = SharedModified
			v.threads[threadID] = struct{}{}
		case SharedModified:
			if len(v.lockset) == 0 {
				t.report(threadID, varID, line)
			}
		}
	case Read:
		if v.state == Exclusive && !seenThread {
			v.state = Shared
			v.threads[threadID] = struct{}{}
		}
	}
}

// report implements §4.7's report() with dedup by
// (thread, var, decl_line, use_line). Caller holds t.mu.
func (t *Tracker) report(threadID, varID int64, line int) {
	meta, ok := t.globalMeta[varID]
	if !ok {
		return
	}
	key := reportKey{threadID: threadID, varID: varID, declLine: meta.declLine, useLine: line}
	if _, dup := t.reported[key]; dup {
		return
	}
	t.reported[key] = struct{}{}

	var related []lockMeta
	ids := make([]int64, 0, len(t.initLockset[varID]))
	for id := range t.initLockset[varID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		related = append(related, t.lockMeta[id])
	}

	t.reports = append(t.reports, Report{
		ThreadID:     threadID,
		VarName:      meta.name,
		VarID:        varID,
		DeclLine:     meta.declLine,
		UseLine:      line,
		RelatedLocks: related,
	})
}

// Reports returns every distinct race found so far.
func (t *Tracker) Reports() []Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Report, len(t.reports))
	copy(out, t.reports)
	return out
}

// State returns varID's current FSM state, for test assertions.
func (t *Tracker) State(varID int64) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.vars[varID]; ok {
		return v.state
	}
	return Virgin
}

// Format renders r the way race_runtime's report() prints it, minus the
// color escapes this package leaves to the caller.
func (r Report) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "variable name      = %s\n", r.VarName)
	fmt.Fprintf(&b, "variable decl      = %d\n", r.DeclLine)
	fmt.Fprintf(&b, "variable used line = %d\n", r.UseLine)
	b.WriteString("[related locks]\n")
	for _, l := range r.RelatedLocks {
		fmt.Fprintf(&b, "    - lock variable name = %s\n", l.name)
		fmt.Fprintf(&b, "    - lock variable decl = %d\n", l.declLine)
	}
	return b.String()
}
