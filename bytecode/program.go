// Package bytecode defines the immutable in-memory representation of a
// compiled Etch program (the ".etcx" artifact) and the reader/writer for
// its binary format.
package bytecode

import "github.com/kunitoki/etch/vmvalue"

// Opcode identifies a VM instruction. Grouped loosely by operand shape;
// see OperandShape below.
type Opcode uint8

const (
	OpNop Opcode = iota

	// Register moves and constants (AB / ABx)
	OpMove     // AB: R[dst] = R[src]
	OpLoadConst // ABx: R[reg] = constants[operand]
	OpLoadNil
	OpLoadBool // AB: R[dst] = bool(src != 0)

	// Arithmetic / logic (ABC)
	OpAddInt
	OpSubInt
	OpMulInt
	OpDivInt
	OpModInt
	OpAddFloat
	OpSubFloat
	OpMulFloat
	OpDivFloat
	OpConcatString
	OpAnd
	OpOr
	OpNot // AB

	// Comparisons (ABC), result is bool in dst
	OpCmpEq
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe

	// Control flow
	OpJump       // ABx: pc += A (signed, relative)
	OpJumpIfTrue // AB: if bool(R[A]) pc += B (signed, relative)
	OpJumpIfFalse
	OpCall   // Call shape
	OpReturn // ABx: A = first result register, B = number of results

	// Heap allocation / access
	OpNewTable
	OpNewArray
	OpNewRef
	OpDeref     // AB
	OpGetField  // ABC: dst, table reg, name-const index in C... (see Instruction.C)
	OpSetField  // ABC: table reg, name-const index, value reg
	OpGetIndex  // ABC: dst, array reg, index reg
	OpSetIndex  // ABC: array reg, index reg, value reg
	OpArrayLen  // AB

	// Option/Result constructors and destructuring
	OpMakeSome
	OpMakeOk
	OpMakeErr
	OpIsSome // AB: dst = bool(src is Some/Ok)
	OpUnwrap // AB: dst = inner(src)

	// Globals and I/O
	OpInitGlobal // InitGlobal shape
	OpLoadGlobal // ABx: dst reg, name-const index
	OpPrint      // AB: print R[src]

	opcodeCount
)

// OperandShape describes how an instruction's operand bytes are laid out.
type OperandShape uint8

const (
	ShapeABC OperandShape = iota
	ShapeAB
	ShapeABx
	ShapeCall
	ShapeInitGlobal
)

// Shape returns the operand shape for an opcode. Centralizing this avoids
// duplicating the table between the encoder/decoder and the dispatch loop.
func (op Opcode) Shape() OperandShape {
	switch op {
	case OpCall:
		return ShapeCall
	case OpInitGlobal:
		return ShapeInitGlobal
	case OpLoadConst, OpJump, OpLoadGlobal, OpReturn:
		return ShapeABx
	case OpMove, OpLoadBool, OpNot, OpDeref, OpArrayLen, OpIsSome, OpUnwrap,
		OpMakeSome, OpMakeOk, OpMakeErr, OpPrint, OpLoadNil,
		OpJumpIfTrue, OpJumpIfFalse, OpNewRef, OpNewArray:
		return ShapeAB
	default:
		return ShapeABC
	}
}

// Instruction is one decoded bytecode instruction. Only the fields implied
// by Op.Shape() are meaningful.
type Instruction struct {
	Op Opcode
	A  int32
	B  int32
	C  int32

	// Call-shape fields.
	FuncIndex  int32
	NumArgs    int32
	NumResults int32
	FirstArg   int32
	FirstRes   int32
}

// LocalVar names one source-level local variable bound to a register,
// scoped to the instruction range [StartPC, EndPC) within the owning
// function. Used only by the debugger's scopes/variables surface and by
// condition evaluation; the VM itself addresses registers by index and
// never consults this table.
type LocalVar struct {
	Name    string
	Reg     int32
	StartPC int
	EndPC   int
}

// FunctionEntry describes one callable function in the function table.
type FunctionEntry struct {
	MangledName string
	StartPC     int
	EndPC       int
	NumRegs     int
	Locals      []LocalVar
}

// DebugLine is the per-instruction debug-info record.
type DebugLine struct {
	FileID int32
	Line   int32
	Column int32
	StmtID int32
}

// FormatVersion is the only ".etcx" version this VM will load.
const FormatVersion byte = 1

// Magic is the fixed 4-byte file header.
var Magic = [4]byte{'E', 'T', 'C', 'X'}

// GlobalFunctionName is the synthetic function that runs top-level
// initializers before any user main() runs.
const GlobalFunctionName = "<global>"

// Program is the immutable, loaded bytecode artifact consumed by the VM.
type Program struct {
	Version      byte
	Constants    []vmvalue.Value
	Functions    []FunctionEntry
	Instructions []Instruction
	DebugInfo    []DebugLine
	SourceFiles  []string
	EntryPoint   int
}

// LocalAt returns the register bound to name at pc, and whether one was
// found. When a name is rebound across nested scopes, the innermost
// (smallest enclosing range) match wins.
func (fn *FunctionEntry) LocalAt(name string, pc int) (int32, bool) {
	reg, found := int32(-1), false
	bestWidth := -1
	for _, l := range fn.Locals {
		if l.Name != name || pc < l.StartPC || pc >= l.EndPC {
			continue
		}
		width := l.EndPC - l.StartPC
		if !found || width < bestWidth {
			reg, found, bestWidth = l.Reg, true, width
		}
	}
	return reg, found
}

// FunctionAt returns the index of the function owning instruction pc, or -1.
func (p *Program) FunctionAt(pc int) int {
	for i, fn := range p.Functions {
		if pc >= fn.StartPC && pc < fn.EndPC {
			return i
		}
	}
	return -1
}

// DebugAt returns the debug info for instruction pc, or the zero value if
// pc is out of range (which should not happen for a well-formed program).
func (p *Program) DebugAt(pc int) DebugLine {
	if pc < 0 || pc >= len(p.DebugInfo) {
		return DebugLine{}
	}
	return p.DebugInfo[pc]
}

// SourceFile returns the path for a file id, or "<unknown>".
func (p *Program) SourceFile(id int32) string {
	if id < 0 || int(id) >= len(p.SourceFiles) {
		return "<unknown>"
	}
	return p.SourceFiles[id]
}
