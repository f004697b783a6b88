// Package vmvalue defines the runtime value representation shared by the
// VM, the heap, and the debugger.
package vmvalue

import (
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindChar
	KindString
	KindArray
	KindTable
	KindRef
	KindWeakRef
	KindOptSome
	KindOptNone
	KindOk
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindChar:
		return "char"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindTable:
		return "table"
	case KindRef:
		return "ref"
	case KindWeakRef:
		return "weak"
	case KindOptSome:
		return "some"
	case KindOptNone:
		return "none"
	case KindOk:
		return "ok"
	case KindErr:
		return "error"
	default:
		return "unknown"
	}
}

// Value is the universal runtime value. Only the field(s) relevant to Kind
// are meaningful; the rest are zero. Inner, when set, holds the payload of
// OptSome/Ok/Err.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Char   rune
	Str    *string // immutable UTF-8 payload
	HeapID int64   // valid for KindArray/KindTable/KindRef/KindWeakRef
	Inner  *Value  // valid for KindOptSome/KindOk/KindErr
}

// Nil is the canonical nil value.
var Nil = Value{Kind: KindNil}

// OptNone is the canonical option-none value.
var OptNone = Value{Kind: KindOptNone}

func NewBool(b bool) Value   { return Value{Kind: KindBool, Bool: b} }
func NewInt(i int64) Value   { return Value{Kind: KindInt, Int: i} }
func NewFloat(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func NewChar(c rune) Value   { return Value{Kind: KindChar, Char: c} }

func NewString(s string) Value {
	return Value{Kind: KindString, Str: &s}
}

func NewRef(heapID int64) Value     { return Value{Kind: KindRef, HeapID: heapID} }
func NewWeakRef(heapID int64) Value { return Value{Kind: KindWeakRef, HeapID: heapID} }

func NewSome(v Value) Value {
	inner := v
	return Value{Kind: KindOptSome, Inner: &inner}
}

func NewOk(v Value) Value {
	inner := v
	return Value{Kind: KindOk, Inner: &inner}
}

func NewErr(v Value) Value {
	inner := v
	return Value{Kind: KindErr, Inner: &inner}
}

// IsHeapRef reports whether the value carries a heap id (strong or weak).
func (v Value) IsHeapRef() bool {
	return v.Kind == KindRef || v.Kind == KindWeakRef || v.Kind == KindArray || v.Kind == KindTable
}

// Equal implements the structural equality defined in the data model.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNil, KindOptNone:
		return true
	case KindBool:
		return v.Bool == other.Bool
	case KindInt:
		return v.Int == other.Int
	case KindFloat:
		return v.Float == other.Float
	case KindChar:
		return v.Char == other.Char
	case KindString:
		return *v.Str == *other.Str
	case KindArray, KindTable, KindRef, KindWeakRef:
		return v.HeapID == other.HeapID
	case KindOptSome, KindOk, KindErr:
		return v.Inner.Equal(*other.Inner)
	default:
		return false
	}
}

// Less implements the partial order defined on numeric/char/string values.
// ok is false when the kinds are not ordered against each other.
func (v Value) Less(other Value) (less bool, ok bool) {
	if v.Kind != other.Kind {
		return false, false
	}
	switch v.Kind {
	case KindInt:
		return v.Int < other.Int, true
	case KindFloat:
		return v.Float < other.Float, true
	case KindChar:
		return v.Char < other.Char, true
	case KindString:
		return *v.Str < *other.Str, true
	default:
		return false, false
	}
}

// Display renders the canonical debugger/print representation of a value.
// Aggregates (Array/Table) and references render as a placeholder naming
// their heap id; their contents live on the heap and are not shown here.
func (v Value) Display() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return formatFloat(v.Float)
	case KindChar:
		return "'" + string(v.Char) + "'"
	case KindString:
		return strconv.Quote(*v.Str)
	case KindRef:
		return fmt.Sprintf("<ref #%d>", v.HeapID)
	case KindWeakRef:
		return fmt.Sprintf("<weak #%d>", v.HeapID)
	case KindArray:
		return fmt.Sprintf("<array #%d>", v.HeapID)
	case KindTable:
		return fmt.Sprintf("<table #%d>", v.HeapID)
	case KindOptSome:
		return "some(" + v.Inner.Display() + ")"
	case KindOptNone:
		return "none"
	case KindOk:
		return "ok(" + v.Inner.Display() + ")"
	case KindErr:
		return "error(" + v.Inner.Display() + ")"
	default:
		return "?"
	}
}

// formatFloat produces the shortest round-trip decimal representation,
// matching the debugger's typed-display table in spec.md §4.3.
func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
