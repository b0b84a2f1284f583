package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lbe/internal/ir"
	"lbe/internal/irnames"
)

// TestASANPassRewritesAllocaWithRedzone checks §4.1's stack-array rewrite:
// the original alloca is padded by rPerElem on each side, a descriptor slot
// is allocated and stored with the usable-region base, and an
// asan_init_redzone call is emitted describing the original size.
func TestASANPassRewritesAllocaWithRedzone(t *testing.T) {
	result := &ir.PointerValue{Name: "buf", Elem: ir.IntType(8)}
	alloca := &ir.AllocaInst{Result: result, ElemTy: ir.IntType(8), Count: 16}

	entry := &ir.BasicBlock{Label: "entry", Instructions: []ir.Instruction{
		alloca,
		&ir.BrInst{},
	}}
	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{entry}}
	mod := &ir.Module{SourceFilename: "a.c", Functions: []*ir.Function{fn}}

	p := &ASANPass{}
	require.NoError(t, p.Instrument(mod))

	// byte width of i8 is 1, so rPerElem = redzoneWidth/1 = 32.
	wantPadded := int64(32) + 16 + int64(32)

	padded, ok := entry.Instructions[0].(*ir.AllocaInst)
	require.True(t, ok)
	assert.Equal(t, wantPadded, padded.Count)
	assert.Same(t, result, padded.Result)

	descAlloca, ok := entry.Instructions[1].(*ir.AllocaInst)
	require.True(t, ok)
	assert.True(t, descAlloca.ElemTy.IsPointer())
	assert.Equal(t, int64(1), descAlloca.Count)

	usableBase, ok := entry.Instructions[2].(*ir.GEPInst)
	require.True(t, ok)
	assert.Same(t, result, usableBase.Ptr)
	assert.Equal(t, int64(32), usableBase.Index.(*ir.IntValue).Val)

	storeDesc, ok := entry.Instructions[3].(*ir.StoreInst)
	require.True(t, ok)
	assert.Same(t, usableBase.Result, storeDesc.Val)

	initRedzone, ok := entry.Instructions[4].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, irnames.ASANInitRedzone, initRedzone.Callee)
	assert.Equal(t, int64(16), initRedzone.Args[1].(*ir.IntValue).Val)
}

// TestASANPassRedirectsGEPThroughDescriptor checks that a GEP over a
// rewritten alloca's pointer is substituted with a load of the descriptor
// slot followed by a GEP off the loaded (usable-region) pointer.
func TestASANPassRedirectsGEPThroughDescriptor(t *testing.T) {
	result := &ir.PointerValue{Name: "buf", Elem: ir.IntType(32)}
	alloca := &ir.AllocaInst{Result: result, ElemTy: ir.IntType(32), Count: 4}
	gep := &ir.GEPInst{
		Result: &ir.PointerValue{Name: "elem", Elem: ir.IntType(32)},
		Ptr:    result,
		ElemTy: ir.IntType(32),
		Index:  &ir.IntValue{Width: 64, Val: 2},
	}

	entry := &ir.BasicBlock{Label: "entry", Instructions: []ir.Instruction{
		alloca,
		gep,
		&ir.BrInst{},
	}}
	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{entry}}
	mod := &ir.Module{SourceFilename: "a.c", Functions: []*ir.Function{fn}}

	p := &ASANPass{}
	require.NoError(t, p.Instrument(mod))

	// entry[0..4] are the alloca rewrite's 5 instructions; the GEP rewrite
	// follows as a Load of the descriptor then a GEP off it.
	load, ok := entry.Instructions[5].(*ir.LoadInst)
	require.True(t, ok)
	assert.True(t, load.Ty.IsPointer())

	rewrittenGEP, ok := entry.Instructions[6].(*ir.GEPInst)
	require.True(t, ok)
	assert.Same(t, load.Ptr, rewrittenGEP.Ptr)
	assert.Same(t, gep.Result, rewrittenGEP.Result)
}

// TestASANPassRedirectsCallArgThroughDescriptor checks that a Call whose
// argument is a rewritten alloca's pointer gets the pointer materialized via
// a descriptor Load before the call, rather than passing the stale raw
// alloca pointer.
func TestASANPassRedirectsCallArgThroughDescriptor(t *testing.T) {
	result := &ir.PointerValue{Name: "buf", Elem: ir.IntType(8)}
	alloca := &ir.AllocaInst{Result: result, ElemTy: ir.IntType(8), Count: 8}
	call := &ir.CallInst{Callee: "memset", Args: []ir.Value{result, &ir.IntValue{Width: 32, Val: 0}}}

	entry := &ir.BasicBlock{Label: "entry", Instructions: []ir.Instruction{
		alloca,
		call,
		&ir.BrInst{},
	}}
	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{entry}}
	mod := &ir.Module{SourceFilename: "a.c", Functions: []*ir.Function{fn}}

	p := &ASANPass{}
	require.NoError(t, p.Instrument(mod))

	load, ok := entry.Instructions[5].(*ir.LoadInst)
	require.True(t, ok)

	rewrittenCall, ok := entry.Instructions[6].(*ir.CallInst)
	require.True(t, ok)
	assert.Equal(t, "memset", rewrittenCall.Callee)
	assert.Same(t, load.Ptr, rewrittenCall.Args[0])
}

// TestASANPassSkipsMetadataCalls checks that debug-intrinsic calls (Metadata
// == true) pass through untouched, per §4.1's ASAN-pass note.
func TestASANPassSkipsMetadataCalls(t *testing.T) {
	call := &ir.CallInst{Callee: "llvm.dbg.declare", Metadata: true}
	entry := &ir.BasicBlock{Label: "entry", Instructions: []ir.Instruction{call, &ir.BrInst{}}}
	fn := &ir.Function{Name: "f", Blocks: []*ir.BasicBlock{entry}}
	mod := &ir.Module{SourceFilename: "a.c", Functions: []*ir.Function{fn}}

	p := &ASANPass{}
	require.NoError(t, p.Instrument(mod))

	require.Len(t, entry.Instructions, 2)
	assert.Same(t, call, entry.Instructions[0])
}
