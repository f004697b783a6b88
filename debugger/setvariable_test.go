package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/vm"
	"github.com/kunitoki/etch/vmvalue"
)

func TestSetVariableOnLocalByName(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)
	require.NoError(t, machine.Step()) // i = 0

	refs := d.Scopes(0)
	v, err := d.SetVariable(refs[ScopeLocals], "i", "41")
	require.NoError(t, err)
	assert.Equal(t, "41", v.Value)
	assert.Equal(t, int64(41), machine.CurrentFrame().Get(0).Int)
}

func TestSetVariableOnRegisterByName(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)
	require.NoError(t, machine.Step()) // i = 0
	require.NoError(t, machine.Step()) // limit = 3, held in r1

	refs := d.Scopes(0)
	_, err := d.SetVariable(refs[ScopeRegisters], "r1", "99")
	require.NoError(t, err)
	assert.Equal(t, int64(99), machine.CurrentFrame().Get(1).Int)
}

func TestSetVariableOnGlobal(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	machine.Globals["answer"] = vmvalue.NewInt(1)
	d := New(machine)

	refs := d.Scopes(0)
	_, err := d.SetVariable(refs[ScopeGlobals], "answer", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), machine.Globals["answer"].Int)
}

func TestSetVariableRejectsKindMismatch(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	machine.Globals["flag"] = vmvalue.NewBool(true)
	d := New(machine)

	refs := d.Scopes(0)
	_, err := d.SetVariable(refs[ScopeGlobals], "flag", "not-a-bool")
	assert.Error(t, err)
}

func TestSetVariableOnArrayElements(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)

	id := machine.Heap.AllocArray(3)
	require.NoError(t, machine.Heap.AppendElement(id, vmvalue.NewInt(1)))
	require.NoError(t, machine.Heap.AppendElement(id, vmvalue.NewInt(2)))
	require.NoError(t, machine.Heap.AppendElement(id, vmvalue.NewInt(3)))
	machine.Globals["nums"] = vmvalue.Value{Kind: vmvalue.KindArray, HeapID: id}

	refs := d.Scopes(0)
	v, err := d.SetVariable(refs[ScopeGlobals], "nums", "[10, 20, 30]")
	require.NoError(t, err)
	assert.Equal(t, "array", v.Kind.String())

	for i, want := range []int64{10, 20, 30} {
		got, err := machine.Heap.GetIndex(id, int64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got.Int)
	}
}

func TestSetVariableOnArrayElementsRejectsLengthMismatch(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)

	id := machine.Heap.AllocArray(2)
	require.NoError(t, machine.Heap.AppendElement(id, vmvalue.NewInt(1)))
	require.NoError(t, machine.Heap.AppendElement(id, vmvalue.NewInt(2)))
	machine.Globals["nums"] = vmvalue.Value{Kind: vmvalue.KindArray, HeapID: id}

	refs := d.Scopes(0)
	_, err := d.SetVariable(refs[ScopeGlobals], "nums", "[1, 2, 3]")
	assert.Error(t, err)
}

func TestSetVariableOnHeapField(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)

	id := machine.Heap.AllocTable()
	require.NoError(t, machine.Heap.SetField(id, "x", vmvalue.NewInt(1)))
	ref := d.scopes.HeapRef(id)

	_, err := d.SetVariable(ref, "x", "9")
	require.NoError(t, err)
	v, err := machine.Heap.GetField(id, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(9), v.Int)
}
