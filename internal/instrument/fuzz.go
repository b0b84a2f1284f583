package instrument

import (
	"lbe/internal/ir"
	"lbe/internal/irnames"
)

// FuzzPass inserts a trace_edge(random_u64) call at the top of every
// qualifying block, after any LandingPad/Phi head, per §4.1's "Fuzz pass".
type FuzzPass struct {
	// next yields the per-call-site constant. The design requires values
	// "stable across runs for the same build artifact" — a counter-derived
	// constant satisfies that without needing a runtime RNG at instrument
	// time.
	next uint64
}

func (p *FuzzPass) Name() string { return "fuzz" }

func (p *FuzzPass) Instrument(mod *ir.Module) error {
	for _, fn := range mod.Functions {
		if skipFunction(fn) {
			continue
		}
		for _, bb := range fn.Blocks {
			if skipBlock(mod, bb) {
				continue
			}
			idx := insertionPoint(bb)
			call := &ir.CallInst{
				Callee: irnames.FuzzTraceEdge,
				Args:   []ir.Value{&ir.IntValue{Width: 64, Val: int64(p.nextID())}},
			}
			bb.InsertBefore(idx, call)
		}
	}
	registerModuleInit(mod, irnames.FuzzModuleInit)
	synthesizeInitFunction(mod, irnames.FuzzModuleInit, irnames.FuzzForkserverInit)
	return nil
}

// nextID hands out a stable per-call-site identifier via splitmix64, so
// repeated builds of the same module produce identical trace_edge constants
// without threading a shared seed through every call site.
func (p *FuzzPass) nextID() uint64 {
	p.next += 0x9E3779B97F4A7C15
	z := p.next
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
