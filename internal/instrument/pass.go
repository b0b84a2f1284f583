// Package instrument rewrites an IR module to insert analysis callbacks for
// the five cooperating runtimes. The pass interface and pipeline are
// generalized from the teacher's internal/ir.OptimizationPass /
// OptimizationPipeline: same single-capability-per-pass shape, same
// ordered-pipeline driver, applied here to instrumentation instead of
// optimization (grounded on instrument/src/module.rs's InstrumentModule
// trait and instrument_all ordering).
package instrument

import (
	"github.com/pkg/errors"

	"lbe/internal/ir"
	"lbe/internal/irnames"
)

// Pass is the single capability every instrumentation pass exposes:
// rewrite module in place, reporting a non-nil error on any fallible step.
type Pass interface {
	Name() string
	Instrument(mod *ir.Module) error
}

// Run composes the five passes in the fixed order race -> symbolic -> fuzz
// -> asan -> coverage, so no pass ever analyzes another's synthetic
// instructions, verifying the module after each pass.
func Run(mod *ir.Module) error {
	passes := []Pass{
		&RacePass{},
		&SymbolicPass{},
		&FuzzPass{},
		&ASANPass{},
		&CoveragePass{},
	}
	for _, p := range passes {
		if err := p.Instrument(mod); err != nil {
			return errors.Wrapf(err, "pass %s", p.Name())
		}
		if err := Verify(mod); err != nil {
			return errors.Wrapf(err, "pass %s left module unverifiable", p.Name())
		}
	}
	return nil
}

// skipFunction reports whether fn must not be touched by any pass: it has
// no body, or its name already belongs to a runtime (§4.1 skip policy).
func skipFunction(fn *ir.Function) bool {
	return !fn.HasBody() || irnames.HasReservedPrefix(fn.Name)
}

// skipBlock reports whether bb belongs to code outside the module's own
// source file (e.g. inlined C++ standard-library bodies), identified by
// comparing the debug filename of its first instruction against the
// module's source filename.
func skipBlock(mod *ir.Module, bb *ir.BasicBlock) bool {
	if len(bb.Instructions) == 0 {
		return true
	}
	pos := bb.Instructions[0].DebugPos()
	return pos.Filename != "" && pos.Filename != mod.SourceFilename
}

// insertionPoint returns the index of the first instruction a pass may
// insert a callback before: Landing-pad and PHI instructions must remain
// first in their block.
func insertionPoint(bb *ir.BasicBlock) int {
	return bb.FirstValidInstruction()
}
