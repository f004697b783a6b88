package debugger

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kunitoki/etch/vmvalue"
)

// SetVariable implements the DAP "setVariable" request: it parses newValue
// against the current Kind of the named variable under reference, and
// writes it back to the register, global, or heap field/element it came
// from. The target's Kind never changes — only its value — matching
// spec.md's setVariable semantics.
func (d *Debugger) SetVariable(reference int, name, newValue string) (Variable, error) {
	ref, ok := d.scopes.refs[reference]
	if !ok {
		return Variable{}, fmt.Errorf("unknown variablesReference %d", reference)
	}

	if ref.isHeap {
		return d.setHeapVariable(ref.heapID, name, newValue)
	}
	switch ref.kind {
	case ScopeLocals, ScopeRegisters:
		return d.setFrameVariable(ref.frame, name, newValue)
	case ScopeGlobals:
		return d.setGlobalVariable(name, newValue)
	default:
		return Variable{}, fmt.Errorf("unhandled scope kind %d", ref.kind)
	}
}

func (d *Debugger) setFrameVariable(dapFrameID int, name, newValue string) (Variable, error) {
	frame := d.vm.FrameAt(d.frameIndex(dapFrameID))
	if frame == nil {
		return Variable{}, fmt.Errorf("no frame at depth %d", dapFrameID)
	}
	fn := d.vm.Program.Functions[frame.FuncIndex]

	if reg, found := fn.LocalAt(name, d.vm.PC()); found {
		current := frame.Get(reg)
		parsed, err := d.parseAndApply(current, newValue)
		if err != nil {
			return Variable{}, err
		}
		frame.Set(reg, parsed)
		return d.describe(name, parsed), nil
	}

	// Registers scope: "r3" style names addressing raw register indices.
	var idx int
	if _, err := fmt.Sscanf(name, "r%d", &idx); err == nil && idx >= 0 && idx < frame.NumRegs {
		current := frame.Get(int32(idx))
		parsed, err := d.parseAndApply(current, newValue)
		if err != nil {
			return Variable{}, err
		}
		frame.Set(int32(idx), parsed)
		return d.describe(name, parsed), nil
	}

	return Variable{}, fmt.Errorf("no variable named %q in frame", name)
}

func (d *Debugger) setGlobalVariable(name, newValue string) (Variable, error) {
	current, ok := d.vm.Globals[name]
	if !ok {
		return Variable{}, fmt.Errorf("no global named %q", name)
	}
	parsed, err := d.parseAndApply(current, newValue)
	if err != nil {
		return Variable{}, err
	}
	d.vm.Globals[name] = parsed
	return d.describe(name, parsed), nil
}

func (d *Debugger) setHeapVariable(heapID int64, name, newValue string) (Variable, error) {
	obj := d.vm.Heap.Get(heapID)
	if obj == nil {
		return Variable{}, fmt.Errorf("heap object #%d is not live", heapID)
	}
	if current, ok := obj.Fields[name]; ok {
		parsed, err := d.parseAndApply(current, newValue)
		if err != nil {
			return Variable{}, err
		}
		if err := d.vm.Heap.SetField(heapID, name, parsed); err != nil {
			return Variable{}, err
		}
		return d.describe(name, parsed), nil
	}

	var idx int
	if _, err := fmt.Sscanf(name, "[%d]", &idx); err == nil {
		if idx < 0 || idx >= len(obj.Elements) {
			return Variable{}, fmt.Errorf("index %d out of bounds", idx)
		}
		parsed, err := d.parseAndApply(obj.Elements[idx], newValue)
		if err != nil {
			return Variable{}, err
		}
		if err := d.vm.Heap.SetIndex(heapID, int64(idx), parsed); err != nil {
			return Variable{}, err
		}
		return d.describe(name, parsed), nil
	}

	return Variable{}, fmt.Errorf("no field or element named %q", name)
}

// parseAndApply parses newValue against current's Kind. Scalars parse
// directly; a KindArray current instead overwrites its heap-backed elements
// in place (the array's HeapID, and so the returned Value, never changes).
func (d *Debugger) parseAndApply(current vmvalue.Value, newValue string) (vmvalue.Value, error) {
	if current.Kind == vmvalue.KindArray {
		if err := d.setArrayElements(current.HeapID, newValue); err != nil {
			return vmvalue.Nil, err
		}
		return current, nil
	}
	return parseValue(current.Kind, newValue)
}

// setArrayElements overwrites every element of the array at heapID with the
// bracketed, comma-separated (JSON array) literal in text, each element
// re-parsed against the array's own existing element kind (taken from its
// first element, since Etch arrays are homogeneous). The array's length
// cannot change through setVariable.
func (d *Debugger) setArrayElements(heapID int64, text string) error {
	n, err := d.vm.Heap.Len(heapID)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("setVariable cannot infer the element kind of an empty array")
	}
	first, err := d.vm.Heap.GetIndex(heapID, 0)
	if err != nil {
		return err
	}

	var tokens []json.RawMessage
	if err := json.Unmarshal([]byte(text), &tokens); err != nil {
		return fmt.Errorf("invalid array literal %q: %w", text, err)
	}
	if len(tokens) != n {
		return fmt.Errorf("array literal has %d elements, expected %d", len(tokens), n)
	}

	elems := make([]vmvalue.Value, len(tokens))
	for i, tok := range tokens {
		v, err := parseValue(first.Kind, string(tok))
		if err != nil {
			return fmt.Errorf("array element %d: %w", i, err)
		}
		elems[i] = v
	}
	for i, v := range elems {
		if err := d.vm.Heap.SetIndex(heapID, int64(i), v); err != nil {
			return err
		}
	}
	return nil
}

// parseValue parses text into a Value of the same Kind as current,
// following JSON-like literal syntax (true/false, numeric literals, quoted
// strings, and — for KindArray, via setArrayElements — a bracketed
// comma-separated list of element literals).
func parseValue(kind vmvalue.Kind, text string) (vmvalue.Value, error) {
	switch kind {
	case vmvalue.KindBool:
		switch text {
		case "true":
			return vmvalue.NewBool(true), nil
		case "false":
			return vmvalue.NewBool(false), nil
		default:
			return vmvalue.Nil, fmt.Errorf("invalid bool literal %q", text)
		}
	case vmvalue.KindInt:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return vmvalue.Nil, fmt.Errorf("invalid int literal %q: %w", text, err)
		}
		return vmvalue.NewInt(v), nil
	case vmvalue.KindFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return vmvalue.Nil, fmt.Errorf("invalid float literal %q: %w", text, err)
		}
		return vmvalue.NewFloat(v), nil
	case vmvalue.KindChar:
		var s string
		if err := json.Unmarshal([]byte(text), &s); err != nil || len([]rune(s)) != 1 {
			return vmvalue.Nil, fmt.Errorf("invalid char literal %q", text)
		}
		return vmvalue.NewChar([]rune(s)[0]), nil
	case vmvalue.KindString:
		var s string
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return vmvalue.Nil, fmt.Errorf("invalid string literal %q: %w", text, err)
		}
		return vmvalue.NewString(s), nil
	case vmvalue.KindNil:
		if text != "nil" {
			return vmvalue.Nil, fmt.Errorf("nil-typed variable can only be set to \"nil\"")
		}
		return vmvalue.Nil, nil
	default:
		return vmvalue.Nil, fmt.Errorf("setVariable does not support kind %s", kind)
	}
}
