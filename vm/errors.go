package vm

import "fmt"

// ArithmeticError reports division/modulo by zero or other arithmetic
// faults defined in spec.md §4.2's runtime fault taxonomy.
type ArithmeticError struct {
	Op      string
	Message string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s: %s", e.Op, e.Message)
}

// BoundsError reports an out-of-range array/register/constant access that
// well-formed bytecode should never produce; it exists as a defense-in-depth
// guard, not a routine control path.
type BoundsError struct {
	Kind  string
	Index int64
	Limit int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("%s index %d out of bounds (limit %d)", e.Kind, e.Index, e.Limit)
}

// NilDerefError reports an operation performed on a Nil value where a
// heap reference, option, or result was required.
type NilDerefError struct {
	Op string
}

func (e *NilDerefError) Error() string {
	return fmt.Sprintf("nil dereference in %s", e.Op)
}

// TypeMismatchError reports a runtime type check failure. The safety prover
// is expected to eliminate these ahead of time for well-typed programs;
// this remains the last line of defense for dynamically loaded bytecode.
type TypeMismatchError struct {
	Op       string
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch in %s: expected %s, got %s", e.Op, e.Expected, e.Got)
}

// UnwrapError reports OpUnwrap / OpIsSome-adjacent access on an empty
// option or error result.
type UnwrapError struct {
	Kind string
}

func (e *UnwrapError) Error() string {
	return fmt.Sprintf("unwrap of %s", e.Kind)
}
