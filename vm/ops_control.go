package vm

import (
	"fmt"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// MaxCallDepth guards against runaway recursion; exceeding it is a VM
// error, not a silently growing Go stack.
const MaxCallDepth = 1024

// execCall handles OpCall (Call shape): it copies NumArgs argument
// registers from the caller's FirstArg base into a new callee frame and
// pushes it. HostFunc calls (FuncIndex into the negative host-reserved
// range) run synchronously and copy results back without pushing a frame.
func (vm *VM) execCall(instr bytecode.Instruction) error {
	if instr.FuncIndex < 0 {
		return vm.execHostCall(instr)
	}
	if int(instr.FuncIndex) >= len(vm.Program.Functions) {
		return &BoundsError{Kind: "function", Index: int64(instr.FuncIndex), Limit: len(vm.Program.Functions)}
	}
	if len(vm.frames) >= MaxCallDepth {
		return fmt.Errorf("vm: call depth exceeded (%d)", MaxCallDepth)
	}

	caller := vm.CurrentFrame()
	fn := vm.Program.Functions[instr.FuncIndex]
	callee := newFrame(int(instr.FuncIndex), fn, vm.pc+1, instr.FirstRes, instr.NumResults)

	for i := int32(0); i < instr.NumArgs; i++ {
		callee.Set(i, caller.Get(instr.FirstArg+i))
	}

	vm.frames = append(vm.frames, callee)
	vm.pc = fn.StartPC
	return nil
}

// execHostCall dispatches to a registered HostFunc by name, looked up via
// the constant pool entry referenced by instr.A (the callee-name string
// constant index), without pushing a bytecode call frame.
func (vm *VM) execHostCall(instr bytecode.Instruction) error {
	nameIdx := instr.A
	if nameIdx < 0 || int(nameIdx) >= len(vm.Program.Constants) {
		return &BoundsError{Kind: "constant", Index: int64(nameIdx), Limit: len(vm.Program.Constants)}
	}
	nameVal := vm.Program.Constants[nameIdx]
	if nameVal.Str == nil {
		return &TypeMismatchError{Op: "host call", Expected: "string", Got: nameVal.Kind.String()}
	}
	fn, ok := vm.hostFuncs[*nameVal.Str]
	if !ok {
		return fmt.Errorf("vm: unregistered host function %q", *nameVal.Str)
	}

	caller := vm.CurrentFrame()
	args := make([]vmvalue.Value, instr.NumArgs)
	for i := int32(0); i < instr.NumArgs; i++ {
		args[i] = caller.Get(instr.FirstArg + i)
	}

	results, err := fn(vm, args)
	if err != nil {
		return fmt.Errorf("host function %q: %w", *nameVal.Str, err)
	}
	for i := int32(0); i < instr.NumResults && int(i) < len(results); i++ {
		caller.Set(instr.FirstRes+i, results[i])
	}
	vm.pc++
	return nil
}

// execReturn handles OpReturn (ABx: A=first result register in the
// returning frame, B=number of results). Results are copied into the
// caller's expected result registers, and the returning frame is popped.
func (vm *VM) execReturn(frame *Frame, instr bytecode.Instruction) error {
	numResults := instr.B
	firstResult := instr.A

	results := make([]vmvalue.Value, numResults)
	for i := int32(0); i < numResults; i++ {
		results[i] = frame.Get(firstResult + i)
	}

	returnPC := frame.ReturnPC
	wantResults := frame.ResultCount
	wantFirst := frame.ResultFirst

	vm.frames = vm.frames[:len(vm.frames)-1]

	if len(vm.frames) == 0 {
		vm.terminate(0, nil)
		return nil
	}

	caller := vm.CurrentFrame()
	for i := int32(0); i < wantResults && int(i) < len(results); i++ {
		caller.Set(wantFirst+i, results[i])
	}
	vm.pc = returnPC
	return nil
}
