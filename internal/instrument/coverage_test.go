package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lbe/internal/ir"
	"lbe/internal/irnames"
)

// debugAlloca returns a trivial integer alloca carrying the given debug
// line, used as filler "something happened here" content for blocks under
// test.
func debugAlloca(line int) *ir.AllocaInst {
	a := &ir.AllocaInst{ElemTy: ir.IntType(32), Count: 1}
	a.Pos = ir.Pos{Filename: "a.c", Line: line}
	return a
}

func TestCoveragePassRecordsFuncsAndLines(t *testing.T) {
	b := ir.NewBuilder("a.c")
	b.Func("main").Block("entry")
	b.Emit(ir.Pos{Filename: "a.c", Line: 10}, &ir.AllocaInst{ElemTy: ir.IntType(32), Count: 1})
	b.Emit(ir.Pos{Filename: "a.c", Line: 11}, &ir.BrInst{})
	mod := b.Module()

	p := &CoveragePass{}
	require.NoError(t, p.Instrument(mod))

	fn := mod.FindFunction("main")
	require.NotNil(t, fn)
	bb := fn.Blocks[0]

	var calls []*ir.CallInst
	for _, in := range bb.Instructions {
		if c, ok := in.(*ir.CallInst); ok {
			calls = append(calls, c)
		}
	}
	require.Len(t, calls, 1)
	assert.Equal(t, irnames.CovHitBatch, calls[0].Callee)

	lines := calls[0].Args[1].(*ir.ConstDataValue).Ints
	assert.Equal(t, []int64{10, 11}, lines)

	init := mod.FindFunction(irnames.CovModuleInit)
	require.NotNil(t, init)
	mapping := init.Blocks[0].Instructions[len(init.Blocks[0].Instructions)-1].(*ir.CallInst)
	assert.Equal(t, irnames.CovMappingSrc, mapping.Callee)
	funcs := mapping.Args[1].(*ir.ConstDataValue).Ints
	assert.Equal(t, []int64{10}, funcs)
}

// TestCoveragePassBranchPairingConditionalBr covers the (true, false) pair
// the BrInst case records.
func TestCoveragePassBranchPairingConditionalBr(t *testing.T) {
	trueBB := &ir.BasicBlock{Label: "t", Instructions: []ir.Instruction{debugAlloca(20)}}
	falseBB := &ir.BasicBlock{Label: "f", Instructions: []ir.Instruction{debugAlloca(21)}}
	entry := &ir.BasicBlock{Label: "entry", Instructions: []ir.Instruction{
		&ir.ICmpInst{Predicate: ir.PredEQ, Left: &ir.IntValue{Width: 32, Val: 1}, Right: &ir.IntValue{Width: 32, Val: 1}},
		&ir.BrInst{Cond: &ir.IntValue{Width: 1, Val: 1}, True: trueBB, False: falseBB},
	}}

	p := &CoveragePass{lines: map[int]struct{}{}}
	p.recordBranchTargets(entry)
	assert.Equal(t, []int{20, 21}, p.branches)
}

// TestCoveragePassSwitchPairingNonOverlapping exercises the switch-pairing
// fix: for a 2-case switch the label list is [default, case0, case1],
// rotated left once to [case0, case1, default], then walked two at a time —
// exactly one pair, two entries.
func TestCoveragePassSwitchPairingNonOverlapping(t *testing.T) {
	def := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(30)}}
	case0 := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(31)}}
	case1 := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(32)}}

	entry := &ir.BasicBlock{Instructions: []ir.Instruction{
		&ir.SwitchInst{
			Cond:    &ir.IntValue{Width: 32, Val: 1},
			Default: def,
			Cases: []ir.SwitchCase{
				{Value: 0, Target: case0},
				{Value: 1, Target: case1},
			},
		},
	}}

	p := &CoveragePass{lines: map[int]struct{}{}}
	p.recordBranchTargets(entry)

	require.Len(t, p.branches, 2)
	assert.Equal(t, []int{31, 32}, p.branches)
}

// TestCoveragePassSwitchPairingThreeCases checks the rotation+step-2 walk
// for an odd case count (3 cases -> 4 labels -> 2 pairs, 4 entries).
func TestCoveragePassSwitchPairingThreeCases(t *testing.T) {
	def := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(40)}}
	case0 := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(41)}}
	case1 := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(42)}}
	case2 := &ir.BasicBlock{Instructions: []ir.Instruction{debugAlloca(43)}}

	entry := &ir.BasicBlock{Instructions: []ir.Instruction{
		&ir.SwitchInst{
			Cond:    &ir.IntValue{Width: 32, Val: 1},
			Default: def,
			Cases: []ir.SwitchCase{
				{Value: 0, Target: case0},
				{Value: 1, Target: case1},
				{Value: 2, Target: case2},
			},
		},
	}}

	p := &CoveragePass{lines: map[int]struct{}{}}
	p.recordBranchTargets(entry)

	// labels = [default, case0, case1, case2] rotated left once:
	// [case0, case1, case2, default] -> pairs (case0,case1), (case2,default)
	require.Len(t, p.branches, 4)
	assert.Equal(t, []int{41, 42, 43, 40}, p.branches)
}
