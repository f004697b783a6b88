package vm

import (
	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// execHeap handles table/array allocation and field/index access.
func (vm *VM) execHeap(frame *Frame, instr bytecode.Instruction) error {
	switch instr.Op {
	case bytecode.OpNewTable:
		id := vm.Heap.AllocTable()
		frame.Set(instr.A, vmvalue.Value{Kind: vmvalue.KindTable, HeapID: id})

	case bytecode.OpNewArray:
		id := vm.Heap.AllocArray(int(instr.B))
		frame.Set(instr.A, vmvalue.Value{Kind: vmvalue.KindArray, HeapID: id})

	case bytecode.OpNewRef:
		src := frame.Get(instr.B)
		if !src.IsHeapRef() {
			return &TypeMismatchError{Op: "ref", Expected: "heap value", Got: src.Kind.String()}
		}
		frame.Set(instr.A, vmvalue.NewRef(src.HeapID))

	case bytecode.OpDeref:
		src := frame.Get(instr.B)
		if src.Kind == vmvalue.KindWeakRef {
			target, ok := vm.Heap.DerefWeak(src.HeapID)
			if !ok {
				return &NilDerefError{Op: "deref weak"}
			}
			frame.Set(instr.A, vmvalue.Value{Kind: vmvalue.KindRef, HeapID: target})
			return nil
		}
		frame.Set(instr.A, src)

	case bytecode.OpGetField:
		tableReg := frame.Get(instr.B)
		name := vm.constString(instr.C)
		v, err := vm.Heap.GetField(tableReg.HeapID, name)
		if err != nil {
			return err
		}
		frame.Set(instr.A, v)

	case bytecode.OpSetField:
		name := vm.constString(instr.B)
		value := frame.Get(instr.C)
		return vm.Heap.SetField(frame.Get(instr.A).HeapID, name, value)

	case bytecode.OpGetIndex:
		arr := frame.Get(instr.B)
		idx := frame.Get(instr.C)
		v, err := vm.Heap.GetIndex(arr.HeapID, idx.Int)
		if err != nil {
			return err
		}
		frame.Set(instr.A, v)

	case bytecode.OpSetIndex:
		arr := frame.Get(instr.A)
		idx := frame.Get(instr.B)
		value := frame.Get(instr.C)
		return vm.Heap.SetIndex(arr.HeapID, idx.Int, value)

	case bytecode.OpArrayLen:
		arr := frame.Get(instr.B)
		n, err := vm.Heap.Len(arr.HeapID)
		if err != nil {
			return err
		}
		frame.Set(instr.A, vmvalue.NewInt(int64(n)))
	}
	return nil
}

// constString fetches a string constant by pool index, used for field
// names encoded directly in an instruction's operand.
func (vm *VM) constString(idx int32) string {
	if idx < 0 || int(idx) >= len(vm.Program.Constants) {
		return ""
	}
	v := vm.Program.Constants[idx]
	if v.Str == nil {
		return ""
	}
	return *v.Str
}
