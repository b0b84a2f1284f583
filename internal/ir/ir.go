package ir

// NewModule creates an empty module for the given source filename. The
// instrumentation engine (internal/instrument) treats SourceFilename as the
// boundary between "our code" and foreign code (e.g. C++ standard library
// headers) when deciding which basic blocks to skip.
func NewModule(sourceFilename string) *Module {
	return &Module{SourceFilename: sourceFilename}
}

// AddFunction appends fn to the module and returns it, for chaining during
// construction.
func (m *Module) AddFunction(fn *Function) *Function {
	m.Functions = append(m.Functions, fn)
	return fn
}

// FindFunction returns the function with the given name, or nil.
func (m *Module) FindFunction(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Print returns a textual dump of the module, for debugging and for the
// instrumentation tests that assert a pass's effect on IR shape.
func Print(m *Module) string {
	return newPrinter().printModule(m)
}
