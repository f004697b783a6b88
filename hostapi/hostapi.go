// Package hostapi is a pure-Go mirror of the C-ABI embedding surface
// described in spec.md §6: an opaque context handle; create/destroy;
// compile-from-string/compile-from-file; execute; call-named-function;
// set/get named global; register host callback; set instruction callback;
// and inspection of pc/call-stack depth/current function/registers. It is
// a specified surface, not a from-scratch runtime — every method is a thin
// wrapper over vm.VM and debugger.Debugger, and there is no cgo `//export`
// boundary here; a real FFI bridge would sit in front of this package.
package hostapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/kunitoki/etch/bytecode"
	"github.com/kunitoki/etch/debugger"
	"github.com/kunitoki/etch/vm"
	"github.com/kunitoki/etch/vmvalue"
)

// Context is the opaque embedding handle. One Context wraps one VM for its
// entire lifetime: create_context -> compile -> (execute | call_function)*
// -> destroy_context, matching spec.md §7's embedded lifecycle note. All
// methods are safe for concurrent use by a single embedding host goroutine
// at a time; the mutex exists to serialize host calls against the VM's
// single-threaded execution model, grounded on the teacher's
// service/debugger_service.go lock-ordering convention (s.mu before any
// debugger call).
type Context struct {
	mu      sync.Mutex
	machine *vm.VM
	dbg     *debugger.Debugger
	lastErr error
}

// NewContext creates an unloaded Context. Call CompileFromFile before
// Execute/CallFunction.
func NewContext() *Context {
	machine := vm.New()
	return &Context{
		machine: machine,
		dbg:     debugger.New(machine),
	}
}

// Destroy releases the context. The VM holds no OS resources beyond Go's
// GC-managed memory, so this only exists to complete the create/destroy
// contract the C-ABI describes.
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine = nil
	c.dbg = nil
}

// LastError returns the error string from the most recent failing call,
// mirroring the C-ABI's "context holds the last error string" contract.
func (c *Context) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return ""
	}
	return c.lastErr.Error()
}

func (c *Context) fail(err error) error {
	c.lastErr = err
	return err
}

// CompileFromFile loads a ".etcx" artifact at path. There is no
// source-level compiler in this repo's scope (spec.md's own Non-goals),
// so this is the only real "compile" entry point; CompileFromString exists
// to complete the contract's shape but always fails.
func (c *Context) CompileFromFile(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prog, err := bytecode.Load(path)
	if err != nil {
		return c.fail(fmt.Errorf("hostapi: compile from file: %w", err))
	}
	if err := c.machine.Load(prog); err != nil {
		return c.fail(fmt.Errorf("hostapi: compile from file: %w", err))
	}
	return nil
}

// CompileFromString always fails: this repo implements the VM and
// debugger, not the lexer/parser/type checker/bytecode compiler (spec.md's
// explicit Non-goals). A real embedding host wires this to an external
// compiler that produces a ".etcx" byte stream, then calls LoadBytecode.
func (c *Context) CompileFromString(_ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail(fmt.Errorf("hostapi: compile from string: no bytecode compiler in this build, use CompileFromFile"))
}

// LoadBytecode installs an already-compiled Program directly, for
// embedding hosts that run their own compiler out-of-process and hand
// Etch the resulting artifact.
func (c *Context) LoadBytecode(prog *bytecode.Program) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.machine.Load(prog); err != nil {
		return c.fail(fmt.Errorf("hostapi: load bytecode: %w", err))
	}
	return nil
}

// Execute runs the loaded program's entry point to completion (or until
// ctx is cancelled / the instruction callback pauses it).
func (c *Context) Execute(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.machine.Run(ctx); err != nil {
		return c.fail(fmt.Errorf("hostapi: execute: %w", err))
	}
	return nil
}

// CallFunction invokes a named function directly, without re-running the
// global entry point, returning its declared result values.
func (c *Context) CallFunction(ctx context.Context, mangledName string, args []vmvalue.Value) ([]vmvalue.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	results, err := c.machine.CallFunction(ctx, mangledName, args)
	if err != nil {
		return nil, c.fail(fmt.Errorf("hostapi: call function: %w", err))
	}
	return results, nil
}

// SetGlobal sets a named global value.
func (c *Context) SetGlobal(name string, v vmvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.Globals[name] = v
}

// GetGlobal reads a named global value, reporting whether it was set.
func (c *Context) GetGlobal(name string) (vmvalue.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.machine.Globals[name]
	return v, ok
}

// RegisterHostFunc exposes a Go function to bytecode under name, callable
// via OpCall's host-reserved function-index convention.
func (c *Context) RegisterHostFunc(name string, fn vm.HostFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.RegisterHostFunc(name, fn)
}

// SetInstructionCallback installs cb as the VM's per-instruction callback,
// overriding whatever the debugger had installed. Embedding hosts that
// also want breakpoint/stepping support should go through Debugger()
// instead and not call this directly.
func (c *Context) SetInstructionCallback(cb vm.InstructionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.SetCallback(cb)
}

// Debugger returns the Context's Debugger, for embedding hosts that want
// breakpoints/stepping/scopes instead of raw instruction callbacks.
func (c *Context) Debugger() *debugger.Debugger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dbg
}

// PC returns the current global instruction pointer.
func (c *Context) PC() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.PC()
}

// CallDepth returns the number of active call frames.
func (c *Context) CallDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.CallDepth()
}

// CurrentFunctionName returns the demangled display name of the
// innermost active frame's function, or "" if the VM has terminated.
func (c *Context) CurrentFunctionName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.machine.CurrentFrame()
	if frame == nil {
		return ""
	}
	return debugger.DemangleFunctionName(c.machine.Program.Functions[frame.FuncIndex].MangledName)
}

// RegisterCount returns the innermost active frame's register count, or 0
// if the VM has terminated.
func (c *Context) RegisterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.machine.CurrentFrame()
	if frame == nil {
		return 0
	}
	return frame.NumRegs
}

// RegisterValue returns register reg of the innermost active frame.
func (c *Context) RegisterValue(reg int32) (vmvalue.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := c.machine.CurrentFrame()
	if frame == nil {
		return vmvalue.Nil, c.fail(fmt.Errorf("hostapi: register value: vm has terminated"))
	}
	if reg < 0 || int(reg) >= frame.NumRegs {
		return vmvalue.Nil, c.fail(fmt.Errorf("hostapi: register value: register %d out of range (frame has %d)", reg, frame.NumRegs))
	}
	return frame.Get(reg), nil
}
