package replay

import (
	"context"
	"fmt"

	"github.com/kunitoki/etch/debugger"
	"github.com/kunitoki/etch/vm"
	"github.com/kunitoki/etch/vmvalue"
)

// Recorder drives a vm.VM to completion, capturing one StatementSnapshot
// every time the currently executing statement changes — the same
// depth+stmtID boundary the debugger uses for step semantics, grounded on
// debugger/stepping.go's shouldBreak.
type Recorder struct {
	machine *vm.VM
	last    struct {
		valid  bool
		stmtID int32
		depth  int
	}
	statements []StatementSnapshot
}

// NewRecorder wires a Recorder to machine, installing its own instruction
// callback. machine must already have a program loaded.
func NewRecorder(machine *vm.VM) *Recorder {
	r := &Recorder{machine: machine}
	machine.SetCallback(r.onStep)
	return r
}

func (r *Recorder) onStep(event vm.StepEvent) vm.Action {
	if r.last.valid && event.StmtID == r.last.stmtID && event.FrameDepth == r.last.depth {
		return vm.ActionContinue
	}
	r.last.valid = true
	r.last.stmtID = event.StmtID
	r.last.depth = event.FrameDepth

	frame := r.machine.CurrentFrame()
	if frame == nil {
		return vm.ActionContinue
	}
	regs := make([]vmvalue.Value, frame.NumRegs)
	copy(regs, frame.Registers[:frame.NumRegs])

	name := functionName(r.machine, event.FuncIndex)
	r.statements = append(r.statements, StatementSnapshot{
		StmtID:       int32(len(r.statements)) + 1,
		FunctionName: name,
		Line:         int32(event.Line),
		FrameDepth:   int32(event.FrameDepth),
		Registers:    regs,
	})
	return vm.ActionContinue
}

func functionName(machine *vm.VM, funcIndex int) string {
	if funcIndex < 0 || funcIndex >= len(machine.Program.Functions) {
		return "<unknown>"
	}
	mangled := machine.Program.Functions[funcIndex].MangledName
	return debugger.DemangleFunctionName(mangled)
}

// Run drives the VM to termination and returns the completed Recording.
// The Recorder's callback never requests a pause, so one Run call is
// enough to reach StateTerminated.
func (r *Recorder) Run(ctx context.Context) (*Recording, error) {
	if err := r.machine.Run(ctx); err != nil {
		return nil, fmt.Errorf("replay: record: %w", err)
	}
	if r.machine.State() != vm.StateTerminated {
		return nil, fmt.Errorf("replay: record: vm left in unexpected state %s", r.machine.State())
	}
	return &Recording{
		Version:    FormatVersion,
		Statements: r.statements,
		ExitCode:   int32(r.machine.ExitCode()), // #nosec G115 -- exit codes are small process status values
	}, nil
}
