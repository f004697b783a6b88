package vm

import (
	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// execMove handles register moves and constant/literal loads.
func (vm *VM) execMove(frame *Frame, instr bytecode.Instruction) error {
	switch instr.Op {
	case bytecode.OpMove:
		frame.Set(instr.A, frame.Get(instr.B))
	case bytecode.OpLoadConst:
		idx := instr.B
		if idx < 0 || int(idx) >= len(vm.Program.Constants) {
			return &BoundsError{Kind: "constant", Index: int64(idx), Limit: len(vm.Program.Constants)}
		}
		frame.Set(instr.A, vm.Program.Constants[idx])
	case bytecode.OpLoadNil:
		frame.Set(instr.A, vmvalue.Nil)
	case bytecode.OpLoadBool:
		frame.Set(instr.A, vmvalue.NewBool(instr.B != 0))
	}
	return nil
}
