package instrument

import (
	"lbe/internal/ir"
	"lbe/internal/irnames"
)

const (
	lockKindLock   = 1
	lockKindUnlock = 2

	accessRead  = 0
	accessWrite = 1
)

// candidateLock records one lock held at the moment an instrumented
// function first touched a shared global, for the module-init dump that
// seeds the runtime's initial lockset table.
type candidateLock struct {
	name     string
	declLine int
}

// RacePass inserts the lockset-bookkeeping callbacks described in §4.1's
// "Race pass". It runs first in the fixed pipeline order since every other
// pass's synthetic calls to pthread primitives would otherwise be
// misattributed as lock/unlock sites.
type RacePass struct {
	// candidateLockset maps a global's name to the locks observed held the
	// first time any instrumented function accessed it.
	candidateLockset map[string][]candidateLock
	candidateDecl    map[string]int
}

func (p *RacePass) Name() string { return "race" }

func (p *RacePass) Instrument(mod *ir.Module) error {
	p.candidateLockset = map[string][]candidateLock{}
	p.candidateDecl = map[string]int{}

	for _, fn := range mod.Functions {
		if skipFunction(fn) {
			continue
		}
		p.instrumentFunction(mod, fn)
	}

	p.emitCandidateLocksets(mod)
	return nil
}

func (p *RacePass) instrumentFunction(mod *ir.Module, fn *ir.Function) {
	var liveLocks []string
	threadIDTaken := false
	threadVar := &ir.PointerValue{Name: fn.Name + ".tid", Elem: ir.IntType(64)}

	for _, bb := range fn.Blocks {
		if skipBlock(mod, bb) {
			continue
		}
		var out []ir.Instruction
		for _, in := range bb.Instructions {
			if call, ok := in.(*ir.CallInst); ok && isLockCall(call.Callee) {
				out = append(out, call)
				kind := lockKindLock
				if call.Callee == irnames.PthreadMutexUnlock {
					kind = lockKindUnlock
					liveLocks = removeLock(liveLocks, lockID(call))
				} else {
					liveLocks = append(liveLocks, lockID(call))
				}
				out = append(out, p.threadSelfIfNeeded(&threadIDTaken, threadVar))
				out = append(out, &ir.CallInst{
					Callee: irnames.RaceUpdateLockHeld,
					Args:   []ir.Value{&ir.IntValue{Width: 32, Val: int64(kind)}, threadVar, &ir.ConstDataValue{Str: lockID(call)}},
				})
				continue
			}

			if g, access, ok := globalAccess(in); ok {
				if _, seen := p.candidateLockset[g.Name]; !seen {
					p.candidateDecl[g.Name] = g.DeclLine
					snap := make([]candidateLock, len(liveLocks))
					for i, l := range liveLocks {
						snap[i] = candidateLock{name: l}
					}
					p.candidateLockset[g.Name] = snap
				}
				out = append(out, in)
				out = append(out, p.threadSelfIfNeeded(&threadIDTaken, threadVar))
				out = append(out, &ir.CallInst{
					Callee: irnames.RaceUpdateSharedMem,
					Args: []ir.Value{
						&ir.IntValue{Width: 32, Val: int64(access)},
						threadVar,
						&ir.ConstDataValue{Str: g.Name},
						&ir.IntValue{Width: 32, Val: int64(in.DebugPos().Line)},
					},
				})
				continue
			}

			out = append(out, in)
		}
		bb.Instructions = filterNil(out)
	}
}

// threadSelfIfNeeded returns the pthread_self() call + store the first time
// it's invoked per function, and a no-op (nil, filtered out) afterward.
func (p *RacePass) threadSelfIfNeeded(taken *bool, threadVar *ir.PointerValue) ir.Instruction {
	if *taken {
		return nil
	}
	*taken = true
	return &ir.CallInst{Callee: irnames.PthreadSelf, Result: threadVar}
}

func filterNil(in []ir.Instruction) []ir.Instruction {
	out := in[:0]
	for _, i := range in {
		if i != nil {
			out = append(out, i)
		}
	}
	return out
}

func isLockCall(callee string) bool {
	return callee == irnames.PthreadMutexLock || callee == irnames.PthreadMutexUnlock
}

func lockID(call *ir.CallInst) string {
	if len(call.Args) == 0 {
		return "?"
	}
	if pv, ok := call.Args[0].(*ir.PointerValue); ok {
		return pv.Name
	}
	return "?"
}

func removeLock(locks []string, id string) []string {
	out := locks[:0]
	for _, l := range locks {
		if l != id {
			out = append(out, l)
		}
	}
	return out
}

// globalAccess reports whether in is a Load/Store whose pointer operand is
// a module-level global integer variable, and whether it's a read or write.
func globalAccess(in ir.Instruction) (*ir.GlobalValue, int, bool) {
	switch v := in.(type) {
	case *ir.LoadInst:
		if g, ok := v.Ptr.(*ir.GlobalValue); ok && g.Elem.IsInteger() {
			return g, accessRead, true
		}
	case *ir.StoreInst:
		if g, ok := v.Ptr.(*ir.GlobalValue); ok && g.Elem.IsInteger() {
			return g, accessWrite, true
		}
	}
	return nil, 0, false
}

func (p *RacePass) emitCandidateLocksets(mod *ir.Module) {
	fn := synthesizeInitFunction(mod, irnames.RaceModuleInit, "__race_runtime_init")
	registerModuleInit(mod, irnames.RaceModuleInit)

	for name, locks := range p.candidateLockset {
		fn.Blocks[0].Instructions = append(fn.Blocks[0].Instructions, &ir.CallInst{
			Callee: irnames.RaceInitCandidateLocksetGlobalVar,
			Args: []ir.Value{
				&ir.ConstDataValue{Str: irnames.RaceGlobalPrefix + name},
				&ir.IntValue{Width: 32, Val: int64(p.candidateDecl[name])},
			},
		})
		for _, l := range locks {
			fn.Blocks[0].Instructions = append(fn.Blocks[0].Instructions, &ir.CallInst{
				Callee: irnames.RaceInitCandidateLocksetLockVar,
				Args: []ir.Value{
					&ir.ConstDataValue{Str: name},
					&ir.ConstDataValue{Str: l.name},
					&ir.IntValue{Width: 32, Val: int64(l.declLine)},
				},
			})
		}
	}
}
