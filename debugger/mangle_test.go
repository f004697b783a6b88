package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vm"
)

func TestDemangleFunctionName(t *testing.T) {
	assert.Equal(t, "add", DemangleFunctionName("add$i64$i64$i64"))
	assert.Equal(t, "<global>", DemangleFunctionName(bytecode.GlobalFunctionName))
	assert.Equal(t, "main", DemangleFunctionName("main"))
	assert.Equal(t, "<unknown>", DemangleFunctionName(""))
}

func TestFunctionDisplayName(t *testing.T) {
	prog := &bytecode.Program{
		Version: bytecode.FormatVersion,
		Functions: []bytecode.FunctionEntry{
			{MangledName: "<global>", StartPC: 0, EndPC: 1, NumRegs: 1},
			{MangledName: "add$i64$i64$i64", StartPC: 1, EndPC: 2, NumRegs: 1},
		},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpReturn, A: 0, B: 0},
			{Op: bytecode.OpReturn, A: 0, B: 0},
		},
		DebugInfo: []bytecode.DebugLine{
			{FileID: 0, Line: 1, StmtID: 1},
			{FileID: 0, Line: 1, StmtID: 1},
		},
		SourceFiles: []string{"main.etch"},
		EntryPoint:  0,
	}
	machine := vm.New()
	require.NoError(t, machine.Load(prog))
	d := New(machine)

	assert.Equal(t, "<global>", d.FunctionDisplayName(0))
	assert.Equal(t, "add", d.FunctionDisplayName(1))
	assert.Equal(t, "<unknown>", d.FunctionDisplayName(99))
}
