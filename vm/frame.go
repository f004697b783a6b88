package vm

import (
	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/vmvalue"
)

// MaxRegisters bounds a single frame's register file. Functions requiring
// more registers than this are rejected at load time.
const MaxRegisters = 256

// Frame is one activation record on the call stack.
type Frame struct {
	// FuncIndex is the index into Program.Functions this frame is running.
	FuncIndex int
	// ReturnPC is the instruction to resume at in the caller once this
	// frame returns.
	ReturnPC int
	// ResultFirst/ResultCount describe the caller's register window that
	// expects this frame's return values.
	ResultFirst int32
	ResultCount int32

	// Registers is this frame's fixed-size register file.
	Registers [MaxRegisters]vmvalue.Value
	NumRegs   int

	// Line is the current source line the frame is executing, updated on
	// every instruction from Program.DebugInfo; the debugger's stack trace
	// and stepping logic read this directly instead of re-deriving it from
	// pc each time.
	Line int
	// StmtID is the current statement id (see bytecode.DebugLine), used by
	// the stepping logic to detect "same statement, different pc" within
	// loop bodies.
	StmtID int32
}

func newFrame(funcIndex int, fn bytecode.FunctionEntry, returnPC int, resultFirst, resultCount int32) *Frame {
	f := &Frame{
		FuncIndex:   funcIndex,
		ReturnPC:    returnPC,
		ResultFirst: resultFirst,
		ResultCount: resultCount,
		NumRegs:     fn.NumRegs,
	}
	return f
}

// Get reads register r, returning vmvalue.Nil for an out-of-range index
// rather than panicking; well-formed bytecode never does this, but a
// corrupted .etcx file should fail as a VM error, not a process crash.
func (f *Frame) Get(r int32) vmvalue.Value {
	if r < 0 || int(r) >= len(f.Registers) {
		return vmvalue.Nil
	}
	return f.Registers[r]
}

// Set writes register r.
func (f *Frame) Set(r int32, v vmvalue.Value) {
	if r < 0 || int(r) >= len(f.Registers) {
		return
	}
	f.Registers[r] = v
}
