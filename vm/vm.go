// Package vm implements the register-based bytecode interpreter: the
// dispatch loop, per-instruction-family execution, call stack, and the
// single instruction-callback coupling point the debugger attaches to.
package vm

import (
	"context"
	"fmt"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/heap"
	"github.com/kunitoki/etch/internal/etchlog"
	"github.com/kunitoki/etch/vmvalue"
)

// State is the VM's coarse execution state, observed by the debugger and
// the CLI's run/debug-server subcommands.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// DefaultCycleInterval is how many executed instructions pass between
// automatic cycle-collection sweeps; see heap.Heap.CycleInterval.
const DefaultCycleInterval = 4096

// VM is one executing Etch program instance.
type VM struct {
	Program *bytecode.Program
	Heap    *heap.Heap
	Globals map[string]vmvalue.Value

	frames []*Frame
	pc     int
	state  State

	callback      InstructionCallback
	instrCount    uint64
	lastErr       error
	exitCode      int
	stdout        func(string)
	hostFuncs     map[string]HostFunc
	allocsSinceGC int
}

// HostFunc is a function registered by the embedding host, callable from
// Etch bytecode via OpCall against a negative/host-reserved function index
// convention owned by the hostapi package.
type HostFunc func(vm *VM, args []vmvalue.Value) ([]vmvalue.Value, error)

// New creates an unloaded VM. Call Load before Run/Step.
func New() *VM {
	return &VM{
		Heap:      heap.New(),
		Globals:   make(map[string]vmvalue.Value),
		callback:  continueAlways,
		state:     StateInitialized,
		stdout:    defaultStdout,
		hostFuncs: make(map[string]HostFunc),
	}
}

func defaultStdout(s string) { fmt.Print(s) }

// SetStdout overrides where OpPrint writes, used by tests and by embedding
// hosts that want to capture program output.
func (vm *VM) SetStdout(w func(string)) { vm.stdout = w }

// RegisterHostFunc exposes a Go function to bytecode under name.
func (vm *VM) RegisterHostFunc(name string, fn HostFunc) { vm.hostFuncs[name] = fn }

// Load installs prog and resets execution state to just before the global
// initializer / entry point.
func (vm *VM) Load(prog *bytecode.Program) error {
	if prog == nil {
		return fmt.Errorf("vm: cannot load nil program")
	}
	for _, fn := range prog.Functions {
		if fn.NumRegs > MaxRegisters {
			return fmt.Errorf("vm: function %q needs %d registers (max %d)", fn.MangledName, fn.NumRegs, MaxRegisters)
		}
	}
	vm.Program = prog
	vm.Heap = heap.New()
	vm.Heap.CycleInterval = DefaultCycleInterval
	vm.Globals = make(map[string]vmvalue.Value)
	vm.frames = nil
	vm.pc = prog.EntryPoint
	vm.state = StateInitialized
	vm.instrCount = 0
	vm.lastErr = nil
	vm.exitCode = 0

	fnIndex := prog.FunctionAt(prog.EntryPoint)
	if fnIndex < 0 {
		return fmt.Errorf("vm: entry point %d is not inside any function", prog.EntryPoint)
	}
	entry := newFrame(fnIndex, prog.Functions[fnIndex], -1, 0, 0)
	vm.frames = append(vm.frames, entry)
	return nil
}

// State returns the current coarse execution state.
func (vm *VM) State() State { return vm.state }

// PC returns the current global instruction pointer.
func (vm *VM) PC() int { return vm.pc }

// InstructionCount returns the number of instructions executed so far.
func (vm *VM) InstructionCount() uint64 { return vm.instrCount }

// ExitCode returns the program's exit code, valid once State() is Terminated.
func (vm *VM) ExitCode() int { return vm.exitCode }

// LastError returns the error that caused termination, if any.
func (vm *VM) LastError() error { return vm.lastErr }

// CallDepth returns the number of active call frames.
func (vm *VM) CallDepth() int { return len(vm.frames) }

// CurrentFrame returns the innermost active frame, or nil if terminated.
func (vm *VM) CurrentFrame() *Frame {
	if len(vm.frames) == 0 {
		return nil
	}
	return vm.frames[len(vm.frames)-1]
}

// FrameAt returns the frame at depth (0 = outermost), used by the
// debugger's stack-trace and scopes surfaces.
func (vm *VM) FrameAt(depth int) *Frame {
	if depth < 0 || depth >= len(vm.frames) {
		return nil
	}
	return vm.frames[depth]
}

// Run executes instructions until the program terminates, an error occurs,
// ctx is cancelled, or the instruction callback requests a pause.
func (vm *VM) Run(ctx context.Context) error {
	vm.state = StateRunning
	for vm.state == StateRunning {
		select {
		case <-ctx.Done():
			vm.state = StatePaused
			return ctx.Err()
		default:
		}
		if err := vm.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step invokes the instruction callback for the instruction at pc and, if it
// requests continuation, executes that instruction and advances instrCount.
// A callback that returns ActionPause instead transitions the VM straight to
// Paused without fetching or executing anything: the flagged instruction's
// side effects must not be observable until the debugger actually resumes
// past it (see debugger.Debugger.onStep, which re-invokes the callback for
// this same pc exactly once on resume to let it finally run).
func (vm *VM) Step() error {
	if vm.state == StateTerminated {
		return fmt.Errorf("vm: step on terminated program")
	}
	frame := vm.CurrentFrame()
	if frame == nil {
		vm.terminate(0, nil)
		return nil
	}

	if vm.pc < 0 || vm.pc >= len(vm.Program.Instructions) {
		err := fmt.Errorf("vm: pc %d out of range", vm.pc)
		vm.terminate(1, err)
		return err
	}

	dbg := vm.Program.DebugAt(vm.pc)
	frame.Line = int(dbg.Line)
	frame.StmtID = dbg.StmtID

	event := StepEvent{
		PC:         vm.pc,
		FuncIndex:  frame.FuncIndex,
		File:       vm.Program.SourceFile(dbg.FileID),
		Line:       frame.Line,
		StmtID:     dbg.StmtID,
		FrameDepth: len(vm.frames),
	}
	if vm.callback(event) == ActionPause {
		vm.state = StatePaused
		return nil
	}
	vm.state = StateRunning

	instr := vm.Program.Instructions[vm.pc]
	vm.instrCount++

	if err := vm.execute(instr); err != nil {
		vm.terminate(1, err)
		return err
	}
	return nil
}

// terminate transitions the VM to Terminated with the given exit code and
// error (nil on normal completion).
func (vm *VM) terminate(code int, err error) {
	vm.state = StateTerminated
	vm.exitCode = code
	vm.lastErr = err
	if err != nil {
		etchlog.Logger.Printf("vm: terminated at pc=%d with error: %v", vm.pc, err)
	}
}

// execute dispatches one decoded instruction to its family handler and
// advances pc, unless the handler already changed it (jumps/calls/returns).
func (vm *VM) execute(instr bytecode.Instruction) error {
	frame := vm.CurrentFrame()
	advance := true

	switch instr.Op {
	case bytecode.OpNop:
		// no-op

	case bytecode.OpMove, bytecode.OpLoadConst, bytecode.OpLoadNil, bytecode.OpLoadBool:
		if err := vm.execMove(frame, instr); err != nil {
			return err
		}

	case bytecode.OpAddInt, bytecode.OpSubInt, bytecode.OpMulInt, bytecode.OpDivInt, bytecode.OpModInt,
		bytecode.OpAddFloat, bytecode.OpSubFloat, bytecode.OpMulFloat, bytecode.OpDivFloat,
		bytecode.OpConcatString, bytecode.OpAnd, bytecode.OpOr, bytecode.OpNot:
		if err := vm.execArithmetic(frame, instr); err != nil {
			return err
		}

	case bytecode.OpCmpEq, bytecode.OpCmpNe, bytecode.OpCmpLt, bytecode.OpCmpLe, bytecode.OpCmpGt, bytecode.OpCmpGe:
		if err := vm.execCompare(frame, instr); err != nil {
			return err
		}

	case bytecode.OpJump:
		vm.pc += int(instr.A)
		advance = false

	case bytecode.OpJumpIfTrue:
		if frame.Get(instr.A).Bool {
			vm.pc += int(instr.B)
			advance = false
		}

	case bytecode.OpJumpIfFalse:
		if !frame.Get(instr.A).Bool {
			vm.pc += int(instr.B)
			advance = false
		}

	case bytecode.OpCall:
		if err := vm.execCall(instr); err != nil {
			return err
		}
		advance = false

	case bytecode.OpReturn:
		if err := vm.execReturn(frame, instr); err != nil {
			return err
		}
		advance = false

	case bytecode.OpNewTable, bytecode.OpNewArray, bytecode.OpNewRef, bytecode.OpDeref,
		bytecode.OpGetField, bytecode.OpSetField, bytecode.OpGetIndex, bytecode.OpSetIndex, bytecode.OpArrayLen:
		if err := vm.execHeap(frame, instr); err != nil {
			return err
		}

	case bytecode.OpMakeSome, bytecode.OpMakeOk, bytecode.OpMakeErr, bytecode.OpIsSome, bytecode.OpUnwrap:
		if err := vm.execOptResult(frame, instr); err != nil {
			return err
		}

	case bytecode.OpInitGlobal, bytecode.OpLoadGlobal:
		if err := vm.execGlobal(frame, instr); err != nil {
			return err
		}

	case bytecode.OpPrint:
		vm.stdout(frame.Get(instr.A).Display())

	default:
		return fmt.Errorf("vm: unknown opcode %d at pc=%d", instr.Op, vm.pc)
	}

	if advance {
		vm.pc++
	}
	if vm.Heap.CycleInterval > 0 {
		vm.maybeCollect()
	}
	return nil
}

// maybeCollect triggers an automatic cycle-collection pass once enough
// instructions have executed since the last one. Roots are every value held
// in a register across all active frames plus every global.
func (vm *VM) maybeCollect() {
	vm.allocsSinceGC++
	if vm.allocsSinceGC < vm.Heap.CycleInterval {
		return
	}
	vm.allocsSinceGC = 0
	vm.Heap.CollectCycles(vm.roots())
}

// roots collects every heap id directly reachable from a VM-owned root:
// register files of all active frames, and globals.
func (vm *VM) roots() []int64 {
	var roots []int64
	for _, f := range vm.frames {
		for i := 0; i < f.NumRegs; i++ {
			if v := f.Registers[i]; v.IsHeapRef() {
				roots = append(roots, v.HeapID)
			}
		}
	}
	for _, v := range vm.Globals {
		if v.IsHeapRef() {
			roots = append(roots, v.HeapID)
		}
	}
	return roots
}

// CollectNow forces an immediate cycle-collection pass against the VM's
// current roots and returns the freed heap ids.
func (vm *VM) CollectNow() []int64 {
	return vm.Heap.CollectCycles(vm.roots())
}
