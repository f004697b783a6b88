package vm

import (
	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// execOptResult handles the Option/Result constructors and their
// destructuring primitives (all AB shape: dst=A, src=B).
func (vm *VM) execOptResult(frame *Frame, instr bytecode.Instruction) error {
	switch instr.Op {
	case bytecode.OpMakeSome:
		frame.Set(instr.A, vmvalue.NewSome(frame.Get(instr.B)))

	case bytecode.OpMakeOk:
		frame.Set(instr.A, vmvalue.NewOk(frame.Get(instr.B)))

	case bytecode.OpMakeErr:
		frame.Set(instr.A, vmvalue.NewErr(frame.Get(instr.B)))

	case bytecode.OpIsSome:
		src := frame.Get(instr.B)
		isSome := src.Kind == vmvalue.KindOptSome || src.Kind == vmvalue.KindOk
		frame.Set(instr.A, vmvalue.NewBool(isSome))

	case bytecode.OpUnwrap:
		src := frame.Get(instr.B)
		switch src.Kind {
		case vmvalue.KindOptSome, vmvalue.KindOk, vmvalue.KindErr:
			if src.Inner == nil {
				return &UnwrapError{Kind: src.Kind.String()}
			}
			frame.Set(instr.A, *src.Inner)
		case vmvalue.KindOptNone:
			return &UnwrapError{Kind: "none"}
		default:
			return &TypeMismatchError{Op: "unwrap", Expected: "option/result", Got: src.Kind.String()}
		}
	}
	return nil
}
