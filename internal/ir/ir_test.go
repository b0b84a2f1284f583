package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleAppendCtor(t *testing.T) {
	m := NewModule("a.c")
	m.AppendCtor("__cov_module_init")
	m.AppendCtor("__race_module_init")

	require.Len(t, m.GlobalCtors, 2)
	for _, c := range m.GlobalCtors {
		assert.EqualValues(t, 1<<32-1, c.Priority)
	}
	assert.Equal(t, "__cov_module_init", m.GlobalCtors[0].FnName)
}

func TestFunctionEntryLine(t *testing.T) {
	b := NewBuilder("a.c")
	b.Func("main").Block("entry")
	b.Emit(Pos{Filename: "a.c", Line: 10}, &AllocaInst{ElemTy: IntType(32), Count: 1})

	fn := b.Module().FindFunction("main")
	require.NotNil(t, fn)
	assert.Equal(t, 10, fn.EntryLine())
}

func TestBasicBlockFirstValidInstruction(t *testing.T) {
	bb := &BasicBlock{
		Instructions: []Instruction{
			&LandingPadInst{},
			&PhiInst{},
			&AllocaInst{ElemTy: IntType(8), Count: 1},
			&StoreInst{},
		},
	}
	assert.Equal(t, 2, bb.FirstValidInstruction())
}

func TestBasicBlockInsertBefore(t *testing.T) {
	bb := &BasicBlock{
		Instructions: []Instruction{
			&PhiInst{},
			&StoreInst{},
		},
	}
	idx := bb.FirstValidInstruction()
	bb.InsertBefore(idx, &CallInst{Callee: "cov_hit_batch"})

	require.Len(t, bb.Instructions, 3)
	call, ok := bb.Instructions[1].(*CallInst)
	require.True(t, ok)
	assert.Equal(t, "cov_hit_batch", call.Callee)
}

func TestICmpPredicateNegate(t *testing.T) {
	cases := map[ICmpPredicate]ICmpPredicate{
		PredEQ:  PredNE,
		PredSLT: PredSGE,
		PredSLE: PredSGT,
	}
	for p, want := range cases {
		assert.Equal(t, want, p.Negate())
		assert.Equal(t, p, want.Negate())
	}
}

func TestPrintModule(t *testing.T) {
	b := NewBuilder("a.c")
	b.Global("g_counter", IntType(32), 3)
	b.Func("main").Block("entry")
	b.Emit(Pos{Filename: "a.c", Line: 4}, &AllocaInst{ElemTy: IntType(32), Count: 1})

	out := Print(b.Module())
	assert.True(t, strings.Contains(out, "module \"a.c\""))
	assert.True(t, strings.Contains(out, "global @g_counter"))
	assert.True(t, strings.Contains(out, "function @main"))
	assert.True(t, strings.Contains(out, "alloca [1 x i32]"))
}

func TestTypeByteWidth(t *testing.T) {
	assert.Equal(t, 4, IntType(32).ByteWidth())
	assert.Equal(t, 1, IntType(8).ByteWidth())
	assert.Panics(t, func() { PointerType(IntType(8)).ByteWidth() })
}
