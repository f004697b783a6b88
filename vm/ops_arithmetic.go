package vm

import (
	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// execArithmetic handles binary/unary arithmetic, logic, and string
// concatenation (all ABC shape: dst=A, lhs=B, rhs=C; OpNot is AB: dst=A,
// src=B).
func (vm *VM) execArithmetic(frame *Frame, instr bytecode.Instruction) error {
	op := instr.Op

	if op == bytecode.OpNot {
		frame.Set(instr.A, vmvalue.NewBool(!frame.Get(instr.B).Bool))
		return nil
	}

	lhs, rhs := frame.Get(instr.B), frame.Get(instr.C)

	switch op {
	case bytecode.OpAddInt:
		frame.Set(instr.A, vmvalue.NewInt(lhs.Int+rhs.Int))
	case bytecode.OpSubInt:
		frame.Set(instr.A, vmvalue.NewInt(lhs.Int-rhs.Int))
	case bytecode.OpMulInt:
		frame.Set(instr.A, vmvalue.NewInt(lhs.Int*rhs.Int))
	case bytecode.OpDivInt:
		if rhs.Int == 0 {
			return &ArithmeticError{Op: "div", Message: "division by zero"}
		}
		frame.Set(instr.A, vmvalue.NewInt(lhs.Int/rhs.Int))
	case bytecode.OpModInt:
		if rhs.Int == 0 {
			return &ArithmeticError{Op: "mod", Message: "modulo by zero"}
		}
		frame.Set(instr.A, vmvalue.NewInt(lhs.Int%rhs.Int))
	case bytecode.OpAddFloat:
		frame.Set(instr.A, vmvalue.NewFloat(lhs.Float+rhs.Float))
	case bytecode.OpSubFloat:
		frame.Set(instr.A, vmvalue.NewFloat(lhs.Float-rhs.Float))
	case bytecode.OpMulFloat:
		frame.Set(instr.A, vmvalue.NewFloat(lhs.Float*rhs.Float))
	case bytecode.OpDivFloat:
		if rhs.Float == 0 {
			return &ArithmeticError{Op: "div", Message: "division by zero"}
		}
		frame.Set(instr.A, vmvalue.NewFloat(lhs.Float/rhs.Float))
	case bytecode.OpConcatString:
		if lhs.Str == nil || rhs.Str == nil {
			return &NilDerefError{Op: "concat"}
		}
		frame.Set(instr.A, vmvalue.NewString(*lhs.Str+*rhs.Str))
	case bytecode.OpAnd:
		frame.Set(instr.A, vmvalue.NewBool(lhs.Bool && rhs.Bool))
	case bytecode.OpOr:
		frame.Set(instr.A, vmvalue.NewBool(lhs.Bool || rhs.Bool))
	}
	return nil
}

// execCompare handles equality and ordering comparisons (ABC: dst=A,
// lhs=B, rhs=C).
func (vm *VM) execCompare(frame *Frame, instr bytecode.Instruction) error {
	lhs, rhs := frame.Get(instr.B), frame.Get(instr.C)

	switch instr.Op {
	case bytecode.OpCmpEq:
		frame.Set(instr.A, vmvalue.NewBool(lhs.Equal(rhs)))
	case bytecode.OpCmpNe:
		frame.Set(instr.A, vmvalue.NewBool(!lhs.Equal(rhs)))
	case bytecode.OpCmpLt, bytecode.OpCmpLe, bytecode.OpCmpGt, bytecode.OpCmpGe:
		less, ok := lhs.Less(rhs)
		if !ok {
			return &TypeMismatchError{Op: "compare", Expected: lhs.Kind.String(), Got: rhs.Kind.String()}
		}
		eq := lhs.Equal(rhs)
		var result bool
		switch instr.Op {
		case bytecode.OpCmpLt:
			result = less
		case bytecode.OpCmpLe:
			result = less || eq
		case bytecode.OpCmpGt:
			result = !less && !eq
		case bytecode.OpCmpGe:
			result = !less
		}
		frame.Set(instr.A, vmvalue.NewBool(result))
	}
	return nil
}
