package vm

import (
	"github.com/kunitoki/etch/bytecode"
)

// execGlobal handles global variable initialization and reads.
//
// OpInitGlobal (InitGlobal shape: name-const index in A, value register in
// B) runs once as part of the synthetic <global> function and must not be
// re-executed afterward; OpLoadGlobal (ABx: dst=A, name-const index=B)
// reads an already-initialized global by name.
func (vm *VM) execGlobal(frame *Frame, instr bytecode.Instruction) error {
	switch instr.Op {
	case bytecode.OpInitGlobal:
		name := vm.constString(instr.A)
		if _, exists := vm.Globals[name]; exists {
			return &TypeMismatchError{Op: "init global", Expected: "uninitialized global", Got: "already initialized: " + name}
		}
		vm.Globals[name] = frame.Get(instr.B)

	case bytecode.OpLoadGlobal:
		name := vm.constString(instr.B)
		v, ok := vm.Globals[name]
		if !ok {
			return &NilDerefError{Op: "load global " + name}
		}
		frame.Set(instr.A, v)
	}
	return nil
}
