package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

func arithmeticProgram() *bytecode.Program {
	return &bytecode.Program{
		Version:   bytecode.FormatVersion,
		Constants: []vmvalue.Value{vmvalue.NewInt(10), vmvalue.NewInt(20)},
		Functions: []bytecode.FunctionEntry{
			{MangledName: "<global>", StartPC: 0, EndPC: 5, NumRegs: 3},
		},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},
			{Op: bytecode.OpLoadConst, A: 1, B: 1},
			{Op: bytecode.OpAddInt, A: 2, B: 0, C: 1},
			{Op: bytecode.OpPrint, A: 2},
			{Op: bytecode.OpReturn, A: 0, B: 0},
		},
		DebugInfo: []bytecode.DebugLine{
			{FileID: 0, Line: 1, StmtID: 1},
			{FileID: 0, Line: 1, StmtID: 2},
			{FileID: 0, Line: 1, StmtID: 3},
			{FileID: 0, Line: 1, StmtID: 3},
			{FileID: 0, Line: 1, StmtID: 3},
		},
		SourceFiles: []string{"main.etch"},
		EntryPoint:  0,
	}
}

func TestRunExecutesArithmeticAndPrints(t *testing.T) {
	machine := New()
	var out string
	machine.SetStdout(func(s string) { out += s })
	require.NoError(t, machine.Load(arithmeticProgram()))

	require.NoError(t, machine.Run(context.Background()))
	assert.Equal(t, StateTerminated, machine.State())
	assert.Equal(t, 0, machine.ExitCode())
	assert.Equal(t, "30", out)
}

func TestStepPausesOnInstructionCallback(t *testing.T) {
	machine := New()
	require.NoError(t, machine.Load(arithmeticProgram()))

	steps := 0
	machine.SetCallback(func(StepEvent) Action {
		steps++
		if steps == 2 {
			return ActionPause
		}
		return ActionContinue
	})

	require.NoError(t, machine.Step())
	require.NoError(t, machine.Step())
	assert.Equal(t, StatePaused, machine.State())
	assert.Equal(t, 1, machine.PC(), "the flagged instruction must not execute before the pause is observed")
}

func TestRunRespectsContextCancellation(t *testing.T) {
	machine := New()
	require.NoError(t, machine.Load(arithmeticProgram()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := machine.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StatePaused, machine.State())
}

func TestDivIntByZeroTerminatesWithError(t *testing.T) {
	prog := &bytecode.Program{
		Version:   bytecode.FormatVersion,
		Constants: []vmvalue.Value{vmvalue.NewInt(1), vmvalue.NewInt(0)},
		Functions: []bytecode.FunctionEntry{{MangledName: "<global>", StartPC: 0, EndPC: 3, NumRegs: 3}},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},
			{Op: bytecode.OpLoadConst, A: 1, B: 1},
			{Op: bytecode.OpDivInt, A: 2, B: 0, C: 1},
		},
		DebugInfo: []bytecode.DebugLine{
			{FileID: 0, Line: 1, StmtID: 1},
			{FileID: 0, Line: 1, StmtID: 2},
			{FileID: 0, Line: 1, StmtID: 3},
		},
		SourceFiles: []string{"main.etch"},
		EntryPoint:  0,
	}
	machine := New()
	require.NoError(t, machine.Load(prog))

	err := machine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateTerminated, machine.State())
	assert.Equal(t, 1, machine.ExitCode())
	var arith *ArithmeticError
	assert.ErrorAs(t, err, &arith)
}

func TestCollectNowFreesUnrootedCycle(t *testing.T) {
	machine := New()
	require.NoError(t, machine.Load(arithmeticProgram()))

	a := machine.Heap.AllocTable()
	b := machine.Heap.AllocTable()
	require.NoError(t, machine.Heap.SetField(a, "other", vmvalue.NewRef(b)))
	require.NoError(t, machine.Heap.SetField(b, "other", vmvalue.NewRef(a)))
	machine.Heap.DecRef(a)
	machine.Heap.DecRef(b)

	freed := machine.CollectNow()
	assert.ElementsMatch(t, []int64{a, b}, freed)
}
