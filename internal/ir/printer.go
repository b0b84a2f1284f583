package ir

import (
	"fmt"
	"strings"
)

// printer renders a Module as a readable textual dump. It is not a
// reparseable IR syntax — just enough structure for tests and diagnostics
// to eyeball the effect of an instrumentation pass.
type printer struct {
	indent int
	output strings.Builder
}

func newPrinter() *printer { return &printer{} }

func (p *printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

func (p *printer) printModule(m *Module) string {
	p.writeLine("module %q", m.SourceFilename)
	for _, ctor := range m.GlobalCtors {
		p.writeLine("ctor %s priority=%d", ctor.FnName, ctor.Priority)
	}
	for _, g := range m.Globals {
		p.writeLine("global @%s : %s (decl line %d)", g.Name, g.Elem, g.DeclLine)
	}
	for _, fn := range m.Functions {
		p.printFunction(fn)
	}
	return p.output.String()
}

func (p *printer) printFunction(fn *Function) {
	p.writeLine("function @%s", fn.Name)
	if !fn.HasBody() {
		return
	}
	p.indent++
	for _, bb := range fn.Blocks {
		p.printBlock(bb)
	}
	p.indent--
}

func (p *printer) printBlock(bb *BasicBlock) {
	p.writeLine("%s:", bb.Label)
	p.indent++
	for _, in := range bb.Instructions {
		p.printInstruction(in)
	}
	p.indent--
}

func (p *printer) printInstruction(in Instruction) {
	pos := in.DebugPos()
	loc := ""
	if pos.Filename != "" {
		loc = fmt.Sprintf("  ; %s:%d", pos.Filename, pos.Line)
	}
	switch v := in.(type) {
	case *LoadInst:
		p.writeLine("load %s%s", v.Ty, loc)
	case *StoreInst:
		p.writeLine("store%s", loc)
	case *AllocaInst:
		p.writeLine("alloca [%d x %s]%s", v.Count, v.ElemTy, loc)
	case *CallInst:
		p.writeLine("call %s(%d args)%s", v.Callee, len(v.Args), loc)
	case *GEPInst:
		p.writeLine("getelementptr %s%s", v.ElemTy, loc)
	case *BrInst:
		if v.Conditional() {
			p.writeLine("br cond -> %s, %s%s", v.True.Label, v.False.Label, loc)
		} else {
			p.writeLine("br -> %s%s", v.True.Label, loc)
		}
	case *SwitchInst:
		p.writeLine("switch (%d cases)%s", len(v.Cases), loc)
	case *InvokeInst:
		p.writeLine("invoke %s%s", v.Callee, loc)
	case *ICmpInst:
		p.writeLine("icmp %s%s", v.Predicate, loc)
	case *LandingPadInst:
		p.writeLine("landingpad%s", loc)
	case *PhiInst:
		p.writeLine("phi%s", loc)
	default:
		p.writeLine("%s%s", in.Opcode(), loc)
	}
}
