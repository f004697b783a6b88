package debugger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vm"
	"github.com/kunitoki/etch/vmvalue"
)

// loopProgram counts i from 0 to 2 (three iterations), printing i each time:
//
//	i = 0            (pc0-1)
//	while i < 3 {     (pc2-3)
//	    print(i)      (pc4, the breakpoint line)
//	    i = i + 1     (pc5-6, pc7 jumps back)
//	}                 (pc8 returns)
func loopProgram() *bytecode.Program {
	return &bytecode.Program{
		Version:   bytecode.FormatVersion,
		Constants: []vmvalue.Value{vmvalue.NewInt(0), vmvalue.NewInt(3), vmvalue.NewInt(1)},
		Functions: []bytecode.FunctionEntry{
			{
				MangledName: "<global>", StartPC: 0, EndPC: 9, NumRegs: 4,
				Locals: []bytecode.LocalVar{{Name: "i", Reg: 0, StartPC: 0, EndPC: 9}},
			},
		},
		Instructions: []bytecode.Instruction{
			{Op: bytecode.OpLoadConst, A: 0, B: 0},             // 0: i = 0
			{Op: bytecode.OpLoadConst, A: 1, B: 1},             // 1: limit = 3
			{Op: bytecode.OpCmpLt, A: 2, B: 0, C: 1},            // 2: cond = i < limit
			{Op: bytecode.OpJumpIfFalse, A: 2, B: 5},           // 3: if !cond, jump to 8
			{Op: bytecode.OpPrint, A: 0},                       // 4: print(i)
			{Op: bytecode.OpLoadConst, A: 3, B: 2},             // 5: one = 1
			{Op: bytecode.OpAddInt, A: 0, B: 0, C: 3},           // 6: i = i + one
			{Op: bytecode.OpJump, A: -5},                       // 7: jump back to 2
			{Op: bytecode.OpReturn, A: 0, B: 0},                // 8: return
		},
		DebugInfo: []bytecode.DebugLine{
			{FileID: 0, Line: 1, StmtID: 1},
			{FileID: 0, Line: 1, StmtID: 1},
			{FileID: 0, Line: 2, StmtID: 2},
			{FileID: 0, Line: 2, StmtID: 2},
			{FileID: 0, Line: 3, StmtID: 3},
			{FileID: 0, Line: 4, StmtID: 4},
			{FileID: 0, Line: 4, StmtID: 4},
			{FileID: 0, Line: 4, StmtID: 4},
			{FileID: 0, Line: 5, StmtID: 5},
		},
		SourceFiles: []string{"main.etch"},
		EntryPoint:  0,
	}
}

func runLoopToTermination(t *testing.T, d *Debugger, onStopped func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Loop(ctx) }()

	for {
		select {
		case ev := <-d.Events():
			switch ev.Kind {
			case "stopped":
				onStopped()
				d.Continue()
			case "terminated":
				require.NoError(t, <-done)
				return
			}
		case err := <-done:
			require.NoError(t, err)
			return
		case <-ctx.Done():
			t.Fatal("timed out waiting for debuggee to terminate")
		}
	}
}

func TestBreakpointHitsOncePerLoopIteration(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)
	d.Breakpoints().Set("main.etch", 3, "")

	hits := 0
	runLoopToTermination(t, d, func() { hits++ })
	assert.Equal(t, 3, hits, "three loop iterations must each hit the breakpoint exactly once")
}

func TestConditionalBreakpointOnlyStopsWhenTrue(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)
	d.Breakpoints().Set("main.etch", 3, "i == 2")

	hits := 0
	runLoopToTermination(t, d, func() {
		hits++
		v, err := d.lookupLocal("i", 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.Int)
	})
	assert.Equal(t, 1, hits)
}

func TestStepOverAdvancesOneStatementAtSameDepth(t *testing.T) {
	machine := vm.New()
	require.NoError(t, machine.Load(loopProgram()))
	d := New(machine)

	require.NoError(t, machine.Step()) // executes pc=0 (i=0), frame now reports stmt 1
	require.Equal(t, int32(1), machine.CurrentFrame().StmtID)
	d.StepOver()

	require.NoError(t, machine.Run(context.Background()))
	assert.Equal(t, vm.StatePaused, machine.State())
	// pc=1 shares statement 1 with pc=0 and is skipped without stopping;
	// the next distinct statement at the same depth is 2 (the loop
	// condition), where StepOver must land.
	assert.Equal(t, int32(2), machine.CurrentFrame().StmtID)
}
