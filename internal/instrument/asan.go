package instrument

import (
	"lbe/internal/ir"
	"lbe/internal/irnames"
)

// redzoneWidth is R from §4.2/§4.1: 32 bytes on each side of a stack array.
const redzoneWidth = 32

const kindStack = 1

// allocaRewrite records what the ASAN pass did to one original stack alloca,
// so later instructions in the same function that reference its pointer can
// be redirected through the descriptor slot instead. It is an arena-style
// side table confined to a single pass invocation (§9 "Cyclic dependencies
// in IR passes") and discarded once the function is done.
type allocaRewrite struct {
	desc   *ir.PointerValue
	elemTy ir.Type
}

// ASANPass rewrites loads/stores of integers into bounds-checked accesses
// and stack allocas of integer arrays into redzone-padded allocations, per
// §4.1's "ASAN pass".
type ASANPass struct{}

func (p *ASANPass) Name() string { return "asan" }

func (p *ASANPass) Instrument(mod *ir.Module) error {
	for _, fn := range mod.Functions {
		if skipFunction(fn) {
			continue
		}
		p.instrumentFunction(mod, fn)
	}
	return nil
}

func (p *ASANPass) instrumentFunction(mod *ir.Module, fn *ir.Function) {
	replaced := map[*ir.PointerValue]allocaRewrite{}

	for _, bb := range fn.Blocks {
		if skipBlock(mod, bb) {
			continue
		}
		var out []ir.Instruction
		for _, in := range bb.Instructions {
			out = append(out, p.rewriteInstruction(mod, in, replaced)...)
		}
		bb.Instructions = out
	}
}

func (p *ASANPass) rewriteInstruction(mod *ir.Module, in ir.Instruction, replaced map[*ir.PointerValue]allocaRewrite) []ir.Instruction {
	switch v := in.(type) {
	case *ir.LoadInst:
		ptr := p.resolvePointer(v.Ptr, replaced)
		if v.Ty.IsInteger() {
			return []ir.Instruction{memCheckCall(mod, ptr, v.Ty.ByteWidth()), &ir.LoadInst{Ptr: ptr, Ty: v.Ty}}
		}
		return []ir.Instruction{&ir.LoadInst{Ptr: ptr, Ty: v.Ty}}

	case *ir.StoreInst:
		ptr := p.resolvePointer(v.Ptr, replaced)
		if ir.TypeOf(v.Val).IsPointer() {
			return []ir.Instruction{&ir.StoreInst{Ptr: ptr, Val: v.Val}}
		}
		width := ir.TypeOf(v.Val).ByteWidth()
		return []ir.Instruction{memCheckCall(mod, ptr, width), &ir.StoreInst{Ptr: ptr, Val: v.Val}}

	case *ir.AllocaInst:
		if !v.ElemTy.IsInteger() || v.Result == nil {
			return []ir.Instruction{v}
		}
		return p.rewriteAlloca(v, replaced)

	case *ir.CallInst:
		if v.Metadata {
			return []ir.Instruction{v}
		}
		var pre []ir.Instruction
		args := make([]ir.Value, len(v.Args))
		for i, a := range v.Args {
			resolved, extra := p.materializePointer(a, replaced)
			pre = append(pre, extra...)
			args[i] = resolved
		}
		pre = append(pre, &ir.CallInst{Callee: v.Callee, Args: args, Result: v.Result, Metadata: v.Metadata})
		return pre

	case *ir.GEPInst:
		if rw, ok := ptrRewrite(v.Ptr, replaced); ok {
			load := &ir.LoadInst{Ptr: rw.desc, Ty: ir.PointerType(rw.elemTy)}
			gep := &ir.GEPInst{Result: v.Result, Ptr: rw.desc, ElemTy: v.ElemTy, Index: v.Index}
			return []ir.Instruction{load, gep}
		}
		return []ir.Instruction{v}

	default:
		return []ir.Instruction{v}
	}
}

// resolvePointer substitutes ptr with the descriptor load target if ptr
// refers to a stack alloca the pass already redirected; the actual Load of
// desc is materialized by materializePointer where a value (not just a
// type) is needed.
func (p *ASANPass) resolvePointer(ptr ir.Value, replaced map[*ir.PointerValue]allocaRewrite) ir.Value {
	if rw, ok := ptrRewrite(ptr, replaced); ok {
		return rw.desc
	}
	return ptr
}

func (p *ASANPass) materializePointer(v ir.Value, replaced map[*ir.PointerValue]allocaRewrite) (ir.Value, []ir.Instruction) {
	if rw, ok := ptrRewrite(v, replaced); ok {
		load := &ir.LoadInst{Ptr: rw.desc, Ty: ir.PointerType(rw.elemTy)}
		return rw.desc, []ir.Instruction{load}
	}
	return v, nil
}

func ptrRewrite(v ir.Value, replaced map[*ir.PointerValue]allocaRewrite) (allocaRewrite, bool) {
	pv, ok := v.(*ir.PointerValue)
	if !ok {
		return allocaRewrite{}, false
	}
	rw, ok := replaced[pv]
	return rw, ok
}

// rewriteAlloca replaces `alloca [N x T]` with a redzone-padded allocation,
// a descriptor slot holding the usable-region pointer, and an
// asan_init_redzone call, per §4.1.
func (p *ASANPass) rewriteAlloca(v *ir.AllocaInst, replaced map[*ir.PointerValue]allocaRewrite) []ir.Instruction {
	b := v.ElemTy.ByteWidth()
	rPerElem := (redzoneWidth + b - 1) / b

	padded := &ir.AllocaInst{
		Result: v.Result,
		ElemTy: v.ElemTy,
		Count:  int64(rPerElem) + v.Count + int64(rPerElem),
		Align:  v.Align,
	}

	descSlot := &ir.PointerValue{Name: v.Result.Name + ".desc", Elem: ir.PointerType(v.ElemTy)}
	descAlloca := &ir.AllocaInst{
		Result: descSlot,
		ElemTy: ir.PointerType(v.ElemTy),
		Count:  1,
	}

	usableBase := &ir.GEPInst{
		Result: &ir.PointerValue{Name: v.Result.Name + ".usable", Elem: v.ElemTy},
		Ptr:    v.Result,
		ElemTy: v.ElemTy,
		Index:  &ir.IntValue{Width: 64, Val: int64(rPerElem)},
	}
	storeDesc := &ir.StoreInst{Ptr: descSlot, Val: usableBase.Result}

	initRedzone := &ir.CallInst{
		Callee: irnames.ASANInitRedzone,
		Args: []ir.Value{
			v.Result,
			&ir.IntValue{Width: 64, Val: v.Count * int64(b)},
			&ir.IntValue{Width: 32, Val: kindStack},
		},
	}

	replaced[v.Result] = allocaRewrite{desc: descSlot, elemTy: v.ElemTy}

	return []ir.Instruction{padded, descAlloca, usableBase, storeDesc, initRedzone}
}

func memCheckCall(mod *ir.Module, ptr ir.Value, size int) ir.Instruction {
	return &ir.CallInst{
		Callee: irnames.ASANMemCheck,
		Args: []ir.Value{
			&ir.ConstDataValue{Str: mod.SourceFilename},
			ptr,
			&ir.IntValue{Width: 64, Val: int64(size)},
		},
	}
}
