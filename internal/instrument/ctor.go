package instrument

import "lbe/internal/ir"

// registerModuleInit appends fnName to the module's global constructor
// list at the lowest priority (UINT32_MAX), matching "If the array already
// exists, its entries are read and re-emitted with the new entry appended"
// (§4.1). ir.Module.AppendCtor already implements the append-with-priority
// behavior; this wrapper exists so every pass goes through one call site.
func registerModuleInit(mod *ir.Module, fnName string) {
	mod.AppendCtor(fnName)
}

// synthesizeInitFunction builds a minimal, body-less-except-for-one-call
// wrapper function named fnName that calls runtimeInit, for passes whose
// module_init wrapper does nothing but forward to the runtime's own init
// entry point.
func synthesizeInitFunction(mod *ir.Module, fnName, runtimeInit string) *ir.Function {
	if existing := mod.FindFunction(fnName); existing != nil {
		return existing
	}
	fn := &ir.Function{
		Name:      fnName,
		Synthetic: true,
		Blocks: []*ir.BasicBlock{
			{
				Label: "entry",
				Instructions: []ir.Instruction{
					&ir.CallInst{Callee: runtimeInit},
				},
			},
		},
	}
	mod.AddFunction(fn)
	return fn
}
