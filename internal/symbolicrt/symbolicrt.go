// Package symbolicrt is the symbolic execution runtime (C5): constraint
// ingestion per leaf path state, random state selection, and solving
// (§4.8). Grounded on symbolic_runtime/src/{symbolic,runtime}.rs.
//
// The original dispatches to z3; the retrieval pack carries no SMT binding
// (see DESIGN.md), and §1's Non-goals already cap this component at
// "linear integer arithmetic" — no theory beyond it is in scope. Solver in
// this package is therefore a direct bounded constraint solver over that
// restricted theory (conjunctions of EQ/NE/SLT/SLE/SGT/SGE comparisons
// between an integer variable and a constant, or two variables), not a
// general-purpose SMT replacement.
package symbolicrt

import (
	"math/rand"
	"sync"
)

// OperandKind distinguishes a constraint operand that names a symbolic
// variable (by its stable address) from one that is a concrete constant,
// matching §3's Operand definition.
type OperandKind int8

const (
	Var OperandKind = iota
	Const
)

// Predicate is one of the six comparison predicates §4.1 recognizes.
type Predicate int8

const (
	EQ Predicate = iota
	NE
	SLT
	SLE
	SGT
	SGE
)

// Constraint is one recorded comparison within a leaf path state, per §3.
type Constraint struct {
	LeftKind   OperandKind
	LeftVal    int64
	RightKind  OperandKind
	RightVal   int64
	Predicate  Predicate
}

func (c Constraint) holds(get func(addr int64) int64) bool {
	l := c.LeftVal
	if c.LeftKind == Var {
		l = get(c.LeftVal)
	}
	r := c.RightVal
	if c.RightKind == Var {
		r = get(c.RightVal)
	}
	switch c.Predicate {
	case EQ:
		return l == r
	case NE:
		return l != r
	case SLT:
		return l < r
	case SLE:
		return l <= r
	case SGT:
		return l > r
	case SGE:
		return l >= r
	default:
		return false
	}
}

// Outcome reports what the solver decided about a path state.
type Outcome int

const (
	Sat Outcome = iota
	Unsat
	Unknown
)

// searchBound is the symmetric integer range the bounded solver explores
// for each distinct variable; the instrumented programs this runtime
// targets compare small integers (array indices, counters), so this easily
// covers the feasible space without needing unbounded search.
const searchBound = 1 << 12

// Runtime is the process-wide symbolic state: constraints grouped by leaf
// state id, and the ptr -> stable-address association recorded by
// symbolic_make_prepare.
type Runtime struct {
	mu          sync.Mutex
	constraints map[int64][]Constraint
	addrs       map[int64]int64 // ptr identity -> stable symbolic address
	rng         *rand.Rand
}

// NewRuntime returns an empty symbolic runtime seeded with seed (tests pass
// a fixed seed for deterministic state selection).
func NewRuntime(seed int64) *Runtime {
	return &Runtime{
		constraints: make(map[int64][]Constraint),
		addrs:       make(map[int64]int64),
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// AddConstraint implements __symbolic_module_add_sym: appends one
// constraint to leaf state id's list.
func (r *Runtime) AddConstraint(id int64, c Constraint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constraints[id] = append(r.constraints[id], c)
}

// Prepare implements symbolic_make_prepare: records that runtime pointer
// ptr corresponds to stable symbolic address addr.
func (r *Runtime) Prepare(ptr int64, addr int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addrs[ptr] = addr
}

// SelectState implements select_id: picks one stored leaf state id at
// random among all recorded states (not merely the most recent one, per
// SUPPLEMENTED FEATURES), returning ok=false if none exist.
func (r *Runtime) SelectState() (id int64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.constraints) == 0 {
		return 0, false
	}
	ids := make([]int64, 0, len(r.constraints))
	for k := range r.constraints {
		ids = append(ids, k)
	}
	return ids[r.rng.Intn(len(ids))], true
}

// Solve attempts to find an integer assignment satisfying every constraint
// recorded under id, within a 5-second-equivalent search budget (§4.8).
// The search here is bounded by iteration count rather than wall-clock
// time, since it is a deterministic brute-force search rather than a
// solver with its own internal timeout knob.
func (r *Runtime) Solve(id int64) (map[int64]int64, Outcome) {
	r.mu.Lock()
	constraints := append([]Constraint(nil), r.constraints[id]...)
	r.mu.Unlock()
	if len(constraints) == 0 {
		return nil, Unsat
	}

	vars := collectVars(constraints)
	if len(vars) == 0 {
		if satisfied(constraints, nil) {
			return map[int64]int64{}, Sat
		}
		return nil, Unsat
	}
	if len(vars) > 3 {
		// Bounded search is exponential in variable count; beyond three
		// distinct symbolic variables in one path state this degrades to
		// Unknown rather than paying an intractable search.
		return nil, Unknown
	}

	assignment := make(map[int64]int64, len(vars))
	if searchAssign(constraints, vars, 0, assignment) {
		return assignment, Sat
	}
	return nil, Unsat
}

func collectVars(cs []Constraint) []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, c := range cs {
		if c.LeftKind == Var {
			if _, ok := seen[c.LeftVal]; !ok {
				seen[c.LeftVal] = struct{}{}
				out = append(out, c.LeftVal)
			}
		}
		if c.RightKind == Var {
			if _, ok := seen[c.RightVal]; !ok {
				seen[c.RightVal] = struct{}{}
				out = append(out, c.RightVal)
			}
		}
	}
	return out
}

func satisfied(cs []Constraint, assignment map[int64]int64) bool {
	get := func(addr int64) int64 { return assignment[addr] }
	for _, c := range cs {
		if !c.holds(get) {
			return false
		}
	}
	return true
}

func searchAssign(cs []Constraint, vars []int64, idx int, assignment map[int64]int64) bool {
	if idx == len(vars) {
		return satisfied(cs, assignment)
	}
	for v := int64(-searchBound); v <= searchBound; v++ {
		assignment[vars[idx]] = v
		if searchAssign(cs, vars, idx+1, assignment) {
			return true
		}
	}
	delete(assignment, vars[idx])
	return false
}

// MakeSymbolic implements __make_symbolic: selects a state at random,
// solves it, and returns the solution for the symbolic address associated
// with ptr (if any) along with the outcome. The caller is responsible for
// writing the returned value back through ptr at the requested width
// (1, 4, or 8 bytes per §4.8); this package never performs raw memory
// writes itself.
func (r *Runtime) MakeSymbolic(ptr int64) (value int64, ok bool, outcome Outcome) {
	id, has := r.SelectState()
	if !has {
		return 0, false, Unknown
	}
	r.mu.Lock()
	addr, known := r.addrs[ptr]
	r.mu.Unlock()
	if !known {
		return 0, false, Unknown
	}
	solution, out := r.Solve(id)
	if out != Sat {
		return 0, false, out
	}
	v, found := solution[addr]
	return v, found, Sat
}
