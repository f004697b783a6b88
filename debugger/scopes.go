package debugger

import (
	"fmt"

	"github.com/kunitoki/etch/vmvalue"
)

// ScopeKind identifies one of the three scope categories exposed by the
// DAP "scopes" request.
type ScopeKind int

const (
	ScopeLocals ScopeKind = iota
	ScopeGlobals
	ScopeRegisters
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeLocals:
		return "Locals"
	case ScopeGlobals:
		return "Globals"
	case ScopeRegisters:
		return "Registers"
	default:
		return "Unknown"
	}
}

// varRef is what a DAP variablesReference handle resolves to: either a
// scope within one stack frame, or a heap object (table/array) reached by
// drilling into a parent variable.
type varRef struct {
	kind     ScopeKind
	frame    int // frame depth, meaningful for ScopeLocals/ScopeRegisters
	heapID   int64
	isHeap   bool
}

// ScopeTable allocates and resolves the lazy variablesReference handles
// DAP requires: a reference is only minted when a client actually asks for
// a frame's scopes, and it stays valid only for the current stop.
type ScopeTable struct {
	next int
	refs map[int]varRef
}

func newScopeTable() *ScopeTable {
	return &ScopeTable{next: 1, refs: make(map[int]varRef)}
}

// Reset invalidates every previously allocated reference; called each time
// the debuggee stops, since register/heap contents may have changed.
func (t *ScopeTable) Reset() {
	t.next = 1
	t.refs = make(map[int]varRef)
}

func (t *ScopeTable) alloc(ref varRef) int {
	id := t.next
	t.next++
	t.refs[id] = ref
	return id
}

// ScopesForFrame allocates the three top-level scope references for the
// frame at the given depth.
func (t *ScopeTable) ScopesForFrame(frame int) map[ScopeKind]int {
	return map[ScopeKind]int{
		ScopeLocals:    t.alloc(varRef{kind: ScopeLocals, frame: frame}),
		ScopeGlobals:   t.alloc(varRef{kind: ScopeGlobals, frame: frame}),
		ScopeRegisters: t.alloc(varRef{kind: ScopeRegisters, frame: frame}),
	}
}

// Scopes is the Debugger-level entry point for the DAP "scopes" request.
func (d *Debugger) Scopes(dapFrameID int) map[ScopeKind]int {
	return d.scopes.ScopesForFrame(dapFrameID)
}

// HeapRef allocates a reference for drilling into a table/array value.
func (t *ScopeTable) HeapRef(heapID int64) int {
	return t.alloc(varRef{isHeap: true, heapID: heapID})
}

// Variable is one row returned by the "variables" request.
type Variable struct {
	Name               string
	Value              string
	Kind               vmvalue.Kind
	VariablesReference int // 0 if not further expandable
}

// Variables resolves the variables under a previously allocated reference.
func (d *Debugger) Variables(reference int) ([]Variable, error) {
	ref, ok := d.scopes.refs[reference]
	if !ok {
		return nil, fmt.Errorf("unknown variablesReference %d", reference)
	}
	if ref.isHeap {
		return d.heapVariables(ref.heapID)
	}
	switch ref.kind {
	case ScopeLocals:
		return d.localVariables(ref.frame)
	case ScopeGlobals:
		return d.globalVariables()
	case ScopeRegisters:
		return d.registerVariables(ref.frame)
	default:
		return nil, fmt.Errorf("unhandled scope kind %d", ref.kind)
	}
}

// frameIndex converts a DAP-style frameId (0 = innermost/top of stack) into
// the vm package's frame index (0 = outermost).
func (d *Debugger) frameIndex(dapFrameID int) int {
	return d.vm.CallDepth() - 1 - dapFrameID
}

func (d *Debugger) localVariables(dapFrameID int) ([]Variable, error) {
	frame := d.vm.FrameAt(d.frameIndex(dapFrameID))
	if frame == nil {
		return nil, fmt.Errorf("no frame at depth %d", dapFrameID)
	}
	fn := d.vm.Program.Functions[frame.FuncIndex]
	pc := d.vm.PC()

	var out []Variable
	for _, l := range fn.Locals {
		if pc < l.StartPC || pc >= l.EndPC {
			continue
		}
		out = append(out, d.describe(l.Name, frame.Get(l.Reg)))
	}
	return out, nil
}

func (d *Debugger) registerVariables(dapFrameID int) ([]Variable, error) {
	frame := d.vm.FrameAt(d.frameIndex(dapFrameID))
	if frame == nil {
		return nil, fmt.Errorf("no frame at depth %d", dapFrameID)
	}
	out := make([]Variable, 0, frame.NumRegs)
	for i := 0; i < frame.NumRegs; i++ {
		out = append(out, d.describe(fmt.Sprintf("r%d", i), frame.Registers[i]))
	}
	return out, nil
}

func (d *Debugger) globalVariables() ([]Variable, error) {
	out := make([]Variable, 0, len(d.vm.Globals))
	for name, v := range d.vm.Globals {
		out = append(out, d.describe(name, v))
	}
	return out, nil
}

func (d *Debugger) heapVariables(heapID int64) ([]Variable, error) {
	obj := d.vm.Heap.Get(heapID)
	if obj == nil {
		return nil, fmt.Errorf("heap object #%d is not live", heapID)
	}
	var out []Variable
	for name, v := range obj.Fields {
		out = append(out, d.describe(name, v))
	}
	for i, v := range obj.Elements {
		out = append(out, d.describe(fmt.Sprintf("[%d]", i), v))
	}
	return out, nil
}

// describe builds a Variable row, allocating a drill-down reference when
// the value is a heap aggregate.
func (d *Debugger) describe(name string, v vmvalue.Value) Variable {
	variable := Variable{Name: name, Value: v.Display(), Kind: v.Kind}
	if v.Kind == vmvalue.KindArray || v.Kind == vmvalue.KindTable {
		variable.VariablesReference = d.scopes.HeapRef(v.HeapID)
	}
	return variable
}

// lookupLocal resolves an identifier for condition evaluation against the
// currently executing (innermost) frame: it checks locals first (by
// current pc), then globals. Breakpoint conditions always evaluate in the
// frame the instruction callback just fired for, never an arbitrary
// caller frame, so depth is unused beyond documenting intent at call
// sites.
func (d *Debugger) lookupLocal(name string, _ int) (vmvalue.Value, error) {
	frame := d.vm.CurrentFrame()
	if frame != nil {
		fn := d.vm.Program.Functions[frame.FuncIndex]
		if reg, found := fn.LocalAt(name, d.vm.PC()); found {
			return frame.Get(reg), nil
		}
	}
	if v, ok := d.vm.Globals[name]; ok {
		return v, nil
	}
	return vmvalue.Nil, fmt.Errorf("undefined variable %q", name)
}
