package instrument

import (
	"github.com/pkg/errors"

	"lbe/internal/ir"
)

// Verify performs the structural check the design calls "IR verification":
// it does not re-derive full dominance or type-soundness (that belongs to
// the external IR producer per §1's non-goals), only the invariants this
// engine itself must never violate when it rewrites a module.
func Verify(mod *ir.Module) error {
	for _, fn := range mod.Functions {
		if !fn.HasBody() {
			continue
		}
		if len(fn.Blocks) == 0 {
			return errors.Errorf("function %s has a body but no blocks", fn.Name)
		}
		for _, bb := range fn.Blocks {
			if len(bb.Instructions) == 0 {
				return errors.Errorf("function %s: block %s is empty", fn.Name, bb.Label)
			}
			if term := bb.Terminator(); term == nil {
				return errors.Errorf("function %s: block %s has no terminator", fn.Name, bb.Label)
			}
			sawOrdinary := false
			for _, in := range bb.Instructions {
				switch in.(type) {
				case *ir.LandingPadInst, *ir.PhiInst:
					if sawOrdinary {
						return errors.Errorf("function %s: block %s has a landingpad/phi past the block head", fn.Name, bb.Label)
					}
				default:
					sawOrdinary = true
				}
			}
		}
	}
	return nil
}
