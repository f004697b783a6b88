package vm

import (
	"context"
	"fmt"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// CallFunction looks up mangledName in the function table and runs it to
// completion with args bound to its first registers, returning whatever it
// passes to OpReturn. This is the runtime half of the hostapi
// "call-named-function" contract (spec.md §6): a host can invoke a
// function directly without going through the bytecode's own call sites.
//
// A scratch frame is pushed below the callee purely to catch its return
// values (ResultFirst/ResultCount point into it); it is never itself
// executed, since the call stack is unwound back to it, not through it.
func (vm *VM) CallFunction(ctx context.Context, mangledName string, args []vmvalue.Value) ([]vmvalue.Value, error) {
	if vm.Program == nil {
		return nil, fmt.Errorf("vm: CallFunction: no program loaded")
	}
	if len(args) > MaxRegisters {
		return nil, fmt.Errorf("vm: CallFunction: too many arguments for %q", mangledName)
	}

	fnIndex := -1
	for i, fn := range vm.Program.Functions {
		if fn.MangledName == mangledName {
			fnIndex = i
			break
		}
	}
	if fnIndex < 0 {
		return nil, fmt.Errorf("vm: CallFunction: no such function %q", mangledName)
	}
	fn := vm.Program.Functions[fnIndex]

	// A VM that has run its global initializer to completion has an empty
	// frame stack and StateTerminated; that only means the top-level
	// program is done, not that the loaded Program/Globals are unusable,
	// so CallFunction works from either state and restores whichever one
	// it found on the way out.
	baseDepth := len(vm.frames)
	scratch := newFrame(-1, bytecode.FunctionEntry{NumRegs: MaxRegisters}, -1, 0, 0)
	callee := newFrame(fnIndex, fn, -1, 0, int32(fn.NumRegs))
	for i, a := range args {
		callee.Set(int32(i), a)
	}

	vm.frames = append(vm.frames, scratch, callee)
	savedPC := vm.pc
	vm.pc = fn.StartPC
	savedState := vm.state
	vm.state = StateRunning

	for len(vm.frames) > baseDepth+1 {
		select {
		case <-ctx.Done():
			vm.frames = vm.frames[:baseDepth]
			vm.pc = savedPC
			vm.state = savedState
			return nil, ctx.Err()
		default:
		}
		if err := vm.Step(); err != nil {
			vm.frames = vm.frames[:baseDepth]
			vm.pc = savedPC
			vm.state = savedState
			return nil, err
		}
		if vm.state == StateTerminated {
			vm.pc = savedPC
			vm.state = savedState
			return nil, fmt.Errorf("vm: CallFunction: %q terminated the program", mangledName)
		}
	}

	// callee's ResultCount was set to fn.NumRegs (an upper bound, since the
	// actual return arity lives in its own OpReturn instruction, not in the
	// function table); entries past what was actually returned stay Nil.
	results := make([]vmvalue.Value, fn.NumRegs)
	copy(results, scratch.Registers[:fn.NumRegs])

	vm.frames = vm.frames[:baseDepth]
	vm.pc = savedPC
	vm.state = savedState
	return results, nil
}
