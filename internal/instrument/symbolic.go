package instrument

import (
	"lbe/internal/ir"
	"lbe/internal/irnames"
)

const symbolicMarkerFn = "make_symbolic"

// operandKind distinguishes a constraint operand that names a symbolic
// variable (by stable address) from one that is a plain integer constant.
type operandKind int

const (
	operandVar operandKind = iota
	operandConst
)

type symbolicConstraint struct {
	kindL, kindR operandKind
	valL, valR   int64
	pred         ir.ICmpPredicate
}

type leafState struct {
	id          int
	constraints []symbolicConstraint
}

// SymbolicPass implements §4.1's "Symbolic pass": it marks make_symbolic
// call sites with a stable-address registration, then walks each function's
// control-flow tree forking a path state at every ICmp+conditional-Br pair
// whose operands resolve to a known symbolic variable.
type SymbolicPass struct {
	stableAddr  map[*ir.PointerValue]int64
	nextAddr    int64
	nextStateID int
	leaves      []leafState
}

func (p *SymbolicPass) Name() string { return "symbolic" }

func (p *SymbolicPass) Instrument(mod *ir.Module) error {
	p.stableAddr = map[*ir.PointerValue]int64{}
	p.leaves = nil

	for _, fn := range mod.Functions {
		if skipFunction(fn) {
			continue
		}
		p.prepareMarkers(mod, fn)
		if len(fn.Blocks) > 0 {
			p.walk(fn.Blocks[0], nil, map[*ir.BasicBlock]bool{})
		}
	}

	p.emitConstraints(mod)
	return nil
}

// prepareMarkers inserts symbolic_make_prepare(ptr, stable_address) before
// every call to the make_symbolic marker function.
func (p *SymbolicPass) prepareMarkers(mod *ir.Module, fn *ir.Function) {
	for _, bb := range fn.Blocks {
		if skipBlock(mod, bb) {
			continue
		}
		var out []ir.Instruction
		for _, in := range bb.Instructions {
			call, ok := in.(*ir.CallInst)
			if !ok || call.Callee != symbolicMarkerFn || len(call.Args) < 2 {
				out = append(out, in)
				continue
			}
			ptr, _ := call.Args[1].(*ir.PointerValue)
			if ptr == nil {
				out = append(out, in)
				continue
			}
			addr := p.addressOf(ptr)
			out = append(out, &ir.CallInst{
				Callee: irnames.SymbolicMakePrepare,
				Args:   []ir.Value{ptr, &ir.IntValue{Width: 64, Val: addr}},
			}, in)
		}
		bb.Instructions = out
	}
}

func (p *SymbolicPass) addressOf(ptr *ir.PointerValue) int64 {
	if a, ok := p.stableAddr[ptr]; ok {
		return a
	}
	p.nextAddr++
	p.stableAddr[ptr] = p.nextAddr
	return p.nextAddr
}

// walk performs a DFS over the function's control-flow graph, forking
// constraints into copies at each conditional branch and recording a leaf
// once it reaches an unconditional branch. visited guards against
// re-entering a block already on the current path (loop back-edges).
func (p *SymbolicPass) walk(bb *ir.BasicBlock, constraints []symbolicConstraint, visited map[*ir.BasicBlock]bool) {
	if bb == nil || visited[bb] {
		return
	}
	visited[bb] = true
	defer delete(visited, bb)

	icmp, hasICmp := p.findICmpBeforeBranch(bb)
	term := bb.Terminator()

	switch t := term.(type) {
	case *ir.BrInst:
		if !t.Conditional() {
			p.leaves = append(p.leaves, leafState{id: p.allocStateID(), constraints: append([]symbolicConstraint{}, constraints...)})
			return
		}
		if hasICmp {
			if c, ok := p.buildConstraint(bb, icmp); ok {
				negated := c
				negated.pred = c.pred.Negate()
				p.walk(t.True, appendCopy(constraints, c), visited)
				p.walk(t.False, appendCopy(constraints, negated), visited)
				return
			}
		}
		p.walk(t.True, constraints, visited)
		p.walk(t.False, constraints, visited)

	case *ir.SwitchInst:
		for _, c := range t.Cases {
			p.walk(c.Target, constraints, visited)
		}
		p.walk(t.Default, constraints, visited)

	case *ir.InvokeInst:
		p.walk(t.Normal, constraints, visited)
		p.walk(t.Unwind, constraints, visited)

	default:
		p.leaves = append(p.leaves, leafState{id: p.allocStateID(), constraints: append([]symbolicConstraint{}, constraints...)})
	}
}

func (p *SymbolicPass) allocStateID() int {
	id := p.nextStateID
	p.nextStateID++
	return id
}

// findICmpBeforeBranch reports the ICmp instruction immediately preceding
// bb's terminator, if any — the "ICmp immediately followed by a conditional
// Br" pattern §4.1 recognizes.
func (p *SymbolicPass) findICmpBeforeBranch(bb *ir.BasicBlock) (*ir.ICmpInst, bool) {
	if len(bb.Instructions) < 2 {
		return nil, false
	}
	icmp, ok := bb.Instructions[len(bb.Instructions)-2].(*ir.ICmpInst)
	if !ok {
		return nil, false
	}
	return icmp, true
}

func (p *SymbolicPass) buildConstraint(bb *ir.BasicBlock, icmp *ir.ICmpInst) (symbolicConstraint, bool) {
	lk, lv, lok := p.resolveOperand(bb, icmp.Left)
	rk, rv, rok := p.resolveOperand(bb, icmp.Right)
	if !lok || !rok {
		return symbolicConstraint{}, false
	}
	if lk == operandConst && rk == operandConst {
		return symbolicConstraint{}, false
	}
	return symbolicConstraint{kindL: lk, valL: lv, kindR: rk, valR: rv, pred: icmp.Predicate}, true
}

// resolveOperand implements "walking backward through Load instructions to
// their source": a constant value resolves directly; a pointer value
// resolves to a known symbolic variable only if some preceding Load in the
// block dereferenced it and that pointer was registered via
// symbolic_make_prepare.
func (p *SymbolicPass) resolveOperand(bb *ir.BasicBlock, v ir.Value) (operandKind, int64, bool) {
	if iv, ok := v.(*ir.IntValue); ok {
		return operandConst, iv.Val, true
	}
	pv, ok := v.(*ir.PointerValue)
	if !ok {
		return 0, 0, false
	}
	for _, in := range bb.Instructions {
		load, ok := in.(*ir.LoadInst)
		if !ok {
			continue
		}
		if loadPtr, ok := load.Ptr.(*ir.PointerValue); ok && loadPtr == pv {
			if addr, known := p.stableAddr[pv]; known {
				return operandVar, addr, true
			}
		}
	}
	return 0, 0, false
}

func (p *SymbolicPass) emitConstraints(mod *ir.Module) {
	fn := synthesizeInitFunction(mod, irnames.SymbolicModuleInit, "__symbolic_runtime_init")
	registerModuleInit(mod, irnames.SymbolicModuleInit)

	for _, leaf := range p.leaves {
		for _, c := range leaf.constraints {
			fn.Blocks[0].Instructions = append(fn.Blocks[0].Instructions, &ir.CallInst{
				Callee: irnames.SymbolicModuleAddSym,
				Args: []ir.Value{
					&ir.IntValue{Width: 32, Val: int64(leaf.id)},
					&ir.IntValue{Width: 32, Val: int64(c.kindL)},
					&ir.IntValue{Width: 64, Val: c.valL},
					&ir.IntValue{Width: 32, Val: int64(c.kindR)},
					&ir.IntValue{Width: 64, Val: c.valR},
					&ir.IntValue{Width: 32, Val: int64(c.pred)},
				},
			})
		}
	}
}
