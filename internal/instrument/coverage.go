package instrument

import (
	"sort"

	"lbe/internal/ir"
	"lbe/internal/irnames"
)

// CoveragePass inserts the line/branch/function coverage callbacks
// described in §4.1's "Coverage pass". It runs last in the fixed pipeline
// order so its own synthesized calls are never seen by an earlier pass.
type CoveragePass struct {
	funcs    map[int]struct{}
	branches []int
	lines    map[int]struct{}
}

func (p *CoveragePass) Name() string { return "coverage" }

func (p *CoveragePass) Instrument(mod *ir.Module) error {
	p.funcs = map[int]struct{}{}
	p.lines = map[int]struct{}{}

	for _, fn := range mod.Functions {
		if skipFunction(fn) {
			continue
		}
		p.instrumentFunction(mod, fn)
	}

	p.emitMappingCall(mod)
	return nil
}

func (p *CoveragePass) instrumentFunction(mod *ir.Module, fn *ir.Function) {
	recordedEntry := false
	for _, bb := range fn.Blocks {
		if skipBlock(mod, bb) {
			continue
		}
		if !recordedEntry {
			if line := fn.EntryLine(); line > 0 {
				p.funcs[line] = struct{}{}
			}
			recordedEntry = true
		}

		lines := p.blockLines(bb)
		p.recordBranchTargets(bb)

		if len(lines) == 0 {
			continue
		}
		idx := insertionPoint(bb)
		call := &ir.CallInst{
			Callee: irnames.CovHitBatch,
			Args: []ir.Value{
				&ir.ConstDataValue{Str: mod.SourceFilename},
				&ir.ConstDataValue{Ints: lines},
				&ir.IntValue{Width: 64, Val: int64(len(lines))},
			},
		}
		bb.InsertBefore(idx, call)
	}
}

// blockLines returns the sorted, deduplicated set of source lines touched
// by bb's instructions, recording them into the module-wide `lines` set too.
func (p *CoveragePass) blockLines(bb *ir.BasicBlock) []int64 {
	seen := map[int]struct{}{}
	for _, in := range bb.Instructions {
		pos := in.DebugPos()
		if pos.Filename == "" {
			continue
		}
		seen[pos.Line] = struct{}{}
		p.lines[pos.Line] = struct{}{}
	}
	lines := make([]int, 0, len(seen))
	for l := range seen {
		lines = append(lines, l)
	}
	sort.Ints(lines)
	out := make([]int64, len(lines))
	for i, l := range lines {
		out[i] = int64(l)
	}
	return out
}

// recordBranchTargets walks every conditional Br and Switch target, finds
// the first debug-carrying instruction, and records the lines as
// consecutive (true, false) pairs — or, for Switch, non-overlapping
// adjacent pairs formed by rotating the [default, case0, case1, ...] label
// list left by one and then walking it two at a time.
func (p *CoveragePass) recordBranchTargets(bb *ir.BasicBlock) {
	term := bb.Terminator()
	switch v := term.(type) {
	case *ir.BrInst:
		if !v.Conditional() {
			return
		}
		p.branches = append(p.branches, targetLine(v.True), targetLine(v.False))
	case *ir.SwitchInst:
		labels := make([]*ir.BasicBlock, 0, len(v.Cases)+1)
		labels = append(labels, v.Default)
		for _, c := range v.Cases {
			labels = append(labels, c.Target)
		}
		if len(labels) < 2 {
			return
		}
		labels = append(labels[1:], labels[0])
		for i := 0; i+1 < len(labels); i += 2 {
			p.branches = append(p.branches, targetLine(labels[i]), targetLine(labels[i+1]))
		}
	}
}

func targetLine(bb *ir.BasicBlock) int {
	if bb == nil {
		return 0
	}
	for _, in := range bb.Instructions {
		if pos := in.DebugPos(); pos.Filename != "" {
			return pos.Line
		}
	}
	return 0
}

func (p *CoveragePass) emitMappingCall(mod *ir.Module) {
	fn := synthesizeInitFunction(mod, irnames.CovModuleInit, "__cov_runtime_init")
	registerModuleInit(mod, irnames.CovModuleInit)

	sortedKeys := func(m map[int]struct{}) []int64 {
		keys := make([]int, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		out := make([]int64, len(keys))
		for i, k := range keys {
			out[i] = int64(k)
		}
		return out
	}

	call := &ir.CallInst{
		Callee: irnames.CovMappingSrc,
		Args: []ir.Value{
			&ir.ConstDataValue{Str: mod.SourceFilename},
			&ir.ConstDataValue{Ints: sortedKeys(p.funcs)},
			&ir.ConstDataValue{Ints: p.branches},
			&ir.ConstDataValue{Ints: sortedKeys(p.lines)},
		},
	}
	fn.Blocks[0].Instructions = append(fn.Blocks[0].Instructions, call)
}
