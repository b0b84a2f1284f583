package ir

// Builder provides a fluent construction API for assembling small IR
// modules, used both by instrumentation unit tests (internal/instrument)
// that need a synthetic module to rewrite, and by any future front end that
// lowers a parsed/emitted artifact into this package's types instead of
// hand-building structs.
type Builder struct {
	mod *Module
	fn  *Function
	bb  *BasicBlock
}

// NewBuilder starts building a module for sourceFilename.
func NewBuilder(sourceFilename string) *Builder {
	return &Builder{mod: NewModule(sourceFilename)}
}

// Module returns the module built so far.
func (b *Builder) Module() *Module { return b.mod }

// Func starts a new function and makes it current.
func (b *Builder) Func(name string, params ...Type) *Builder {
	b.fn = &Function{Name: name, Params: params}
	b.mod.AddFunction(b.fn)
	b.bb = nil
	return b
}

// Block appends a basic block to the current function and makes it current.
func (b *Builder) Block(label string) *Builder {
	bb := &BasicBlock{Label: label}
	b.fn.Blocks = append(b.fn.Blocks, bb)
	b.bb = bb
	return b
}

// Emit appends an instruction with the given debug position to the current
// block.
func (b *Builder) Emit(pos Pos, in Instruction) *Builder {
	switch v := in.(type) {
	case *LoadInst:
		v.Pos = pos
	case *StoreInst:
		v.Pos = pos
	case *AllocaInst:
		v.Pos = pos
	case *CallInst:
		v.Pos = pos
	case *GEPInst:
		v.Pos = pos
	case *BrInst:
		v.Pos = pos
	case *SwitchInst:
		v.Pos = pos
	case *InvokeInst:
		v.Pos = pos
	case *ICmpInst:
		v.Pos = pos
	case *LandingPadInst:
		v.Pos = pos
	case *PhiInst:
		v.Pos = pos
	}
	b.bb.Instructions = append(b.bb.Instructions, in)
	return b
}

// Global registers a module-level global and returns it.
func (b *Builder) Global(name string, elem Type, declLine int) *GlobalValue {
	g := &GlobalValue{Name: name, Elem: elem, DeclLine: declLine}
	b.mod.Globals = append(b.mod.Globals, g)
	return g
}
