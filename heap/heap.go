// Package heap implements Etch's reference-counted object heap: allocation,
// strong/weak reference counting, field-edge tracking, cycle detection, and
// self-verification. The heap is single-threaded by contract (spec.md §5):
// all operations assume exclusive access from the owning VM.
package heap

import (
	"fmt"

	"github.com/kunitoki/etch/vmvalue"
)

// Kind tags a heap object's representation.
type Kind uint8

const (
	KindTable Kind = iota
	KindArray
	KindWeak
	KindStringLarge
)

// Object is one heap-allocated value.
type Object struct {
	ID         int64
	Kind       Kind
	StrongRefs int64
	Dirty      bool

	// Table fields, keyed by field name.
	Fields map[string]vmvalue.Value
	// Array elements, in order.
	Elements []vmvalue.Value

	// FieldRefs is the edge cache: the multiset of heap ids referenced by
	// this object's current field/element values, used to cross-check
	// against the EdgeBuffer during verification.
	FieldRefs map[int64]int

	// Weak-object-only fields.
	WeakTarget    int64 // -1 when invalidated
	WeakTargetTag Kind
}

// CorruptionError reports a fatal heap invariant violation detected during
// normal operation (not verify_heap, which reports non-fatally).
type CorruptionError struct {
	Kind    string
	Message string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("heap corruption (%s): %s", e.Kind, e.Message)
}

// Heap owns every heap-allocated object in a running VM.
type Heap struct {
	objects      map[int64]*Object
	freeList     []int64
	nextID       int64
	dirtyObjects map[int64]struct{}
	edges        *EdgeBuffer

	// CycleInterval is the number of executed instructions between automatic
	// cycle collection passes; 0 disables automatic collection (explicit trigger
	// only). Configurable via config's [execution].cycle_interval. The
	// owning VM tracks the countdown and calls CollectCycles itself, since
	// only it knows the current root set.
	CycleInterval int
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{
		objects:      make(map[int64]*Object),
		dirtyObjects: make(map[int64]struct{}),
		edges:        newEdgeBuffer(),
		nextID:       1,
	}
}

// Count returns the number of live objects.
func (h *Heap) Count() int { return len(h.objects) }

// Get returns the object for id, or nil if it is not live.
func (h *Heap) Get(id int64) *Object { return h.objects[id] }

func (h *Heap) allocID() int64 {
	if n := len(h.freeList); n > 0 {
		id := h.freeList[n-1]
		h.freeList = h.freeList[:n-1]
		return id
	}
	id := h.nextID
	h.nextID++
	return id
}

// AllocTable allocates a new table object with strongRefs=1.
func (h *Heap) AllocTable() int64 {
	id := h.allocID()
	obj := &Object{
		ID:         id,
		Kind:       KindTable,
		StrongRefs: 1,
		Dirty:      true,
		Fields:     make(map[string]vmvalue.Value),
		FieldRefs:  make(map[int64]int),
	}
	h.objects[id] = obj
	h.dirtyObjects[id] = struct{}{}
	return id
}

// AllocArray allocates a new array object with strongRefs=1.
func (h *Heap) AllocArray(lenHint int) int64 {
	id := h.allocID()
	if lenHint < 0 {
		lenHint = 0
	}
	obj := &Object{
		ID:         id,
		Kind:       KindArray,
		StrongRefs: 1,
		Dirty:      true,
		Elements:   make([]vmvalue.Value, 0, lenHint),
		FieldRefs:  make(map[int64]int),
	}
	h.objects[id] = obj
	h.dirtyObjects[id] = struct{}{}
	return id
}

// AllocWeak allocates a weak reference slot pointing at targetID. It does
// not increment the target's refcount.
func (h *Heap) AllocWeak(targetID int64, targetKind Kind) int64 {
	id := h.allocID()
	obj := &Object{
		ID:            id,
		Kind:          KindWeak,
		StrongRefs:    1,
		WeakTarget:    targetID,
		WeakTargetTag: targetKind,
		FieldRefs:     make(map[int64]int),
	}
	h.objects[id] = obj
	return id
}

// IncRef increments an object's strong refcount.
func (h *Heap) IncRef(id int64) {
	if obj, ok := h.objects[id]; ok {
		obj.StrongRefs++
	}
}

// DecRef decrements an object's strong refcount, freeing it (and cascading
// through its outgoing edges) when it reaches zero.
func (h *Heap) DecRef(id int64) {
	obj, ok := h.objects[id]
	if !ok {
		return
	}
	obj.StrongRefs--
	if obj.StrongRefs > 0 {
		return
	}
	if obj.StrongRefs < 0 {
		// Never silently wrap past zero; verify_heap will flag this, but
		// the free still proceeds since the object is unreachable either way.
		obj.StrongRefs = 0
	}
	h.free(id)
}

// free releases one object: cascades dec_ref through its recorded outgoing
// edges, removes it from the live set, adds it to the free list, and
// invalidates any weak references that targeted it.
func (h *Heap) free(id int64) {
	obj, ok := h.objects[id]
	if !ok {
		return
	}
	for target := range obj.FieldRefs {
		count := obj.FieldRefs[target]
		for i := 0; i < count; i++ {
			h.edges.removeEdge(id, target)
			h.DecRef(target)
		}
	}
	delete(h.objects, id)
	delete(h.dirtyObjects, id)
	h.freeList = append(h.freeList, id)

	for _, weak := range h.objects {
		if weak.Kind == KindWeak && weak.WeakTarget == id {
			weak.WeakTarget = -1
		}
	}
}

// TrackRef records that src's field now holds Ref(target): an edge is added
// to the EdgeBuffer and the field-ref cache, and target's refcount is
// incremented.
func (h *Heap) TrackRef(src int64, value vmvalue.Value) {
	if value.Kind != vmvalue.KindRef {
		return
	}
	obj, ok := h.objects[src]
	if !ok {
		return
	}
	obj.FieldRefs[value.HeapID]++
	h.edges.addEdge(src, value.HeapID, edgeKindStrong)
	h.IncRef(value.HeapID)
	obj.Dirty = true
	h.dirtyObjects[src] = struct{}{}
}

// UntrackRef is the symmetric operation run when a field holding Ref(old) is
// overwritten or removed.
func (h *Heap) UntrackRef(src int64, old vmvalue.Value) {
	if old.Kind != vmvalue.KindRef {
		return
	}
	obj, ok := h.objects[src]
	if !ok {
		return
	}
	if obj.FieldRefs[old.HeapID] > 0 {
		obj.FieldRefs[old.HeapID]--
		if obj.FieldRefs[old.HeapID] == 0 {
			delete(obj.FieldRefs, old.HeapID)
		}
	}
	h.edges.removeEdge(src, old.HeapID)
	h.DecRef(old.HeapID)
	obj.Dirty = true
	h.dirtyObjects[src] = struct{}{}
}

// SetField writes a table field, tracking/untracking heap edges as needed.
func (h *Heap) SetField(id int64, name string, value vmvalue.Value) error {
	obj, ok := h.objects[id]
	if !ok {
		return &CorruptionError{Kind: "DanglingReference", Message: fmt.Sprintf("SetField on freed object #%d", id)}
	}
	if old, exists := obj.Fields[name]; exists {
		h.UntrackRef(id, old)
	}
	obj.Fields[name] = value
	h.TrackRef(id, value)
	return nil
}

// GetField reads a table field. Reading a dangling/unknown object id is a
// HeapCorruption per spec.md §4.1.
func (h *Heap) GetField(id int64, name string) (vmvalue.Value, error) {
	obj, ok := h.objects[id]
	if !ok {
		return vmvalue.Nil, &CorruptionError{Kind: "DanglingReference", Message: fmt.Sprintf("GetField on freed object #%d", id)}
	}
	v, ok := obj.Fields[name]
	if !ok {
		return vmvalue.Nil, nil
	}
	return v, nil
}

// SetIndex writes an existing array element, tracking/untracking heap
// edges. It does not grow the array: an index outside the current length
// is an IndexOutOfBoundsError.
func (h *Heap) SetIndex(id int64, index int64, value vmvalue.Value) error {
	obj, ok := h.objects[id]
	if !ok {
		return &CorruptionError{Kind: "DanglingReference", Message: fmt.Sprintf("SetIndex on freed object #%d", id)}
	}
	if index < 0 || int(index) >= len(obj.Elements) {
		return &IndexOutOfBoundsError{Index: index, Length: len(obj.Elements)}
	}
	h.UntrackRef(id, obj.Elements[index])
	obj.Elements[index] = value
	h.TrackRef(id, value)
	return nil
}

// AppendElement grows an array by one element, tracking edges.
func (h *Heap) AppendElement(id int64, value vmvalue.Value) error {
	obj, ok := h.objects[id]
	if !ok {
		return &CorruptionError{Kind: "DanglingReference", Message: fmt.Sprintf("AppendElement on freed object #%d", id)}
	}
	obj.Elements = append(obj.Elements, value)
	h.TrackRef(id, value)
	obj.Dirty = true
	h.dirtyObjects[id] = struct{}{}
	return nil
}

// GetIndex reads an array element.
func (h *Heap) GetIndex(id int64, index int64) (vmvalue.Value, error) {
	obj, ok := h.objects[id]
	if !ok {
		return vmvalue.Nil, &CorruptionError{Kind: "DanglingReference", Message: fmt.Sprintf("GetIndex on freed object #%d", id)}
	}
	if index < 0 || int(index) >= len(obj.Elements) {
		return vmvalue.Nil, &IndexOutOfBoundsError{Index: index, Length: len(obj.Elements)}
	}
	return obj.Elements[index], nil
}

// Len returns an array's length.
func (h *Heap) Len(id int64) (int, error) {
	obj, ok := h.objects[id]
	if !ok {
		return 0, &CorruptionError{Kind: "DanglingReference", Message: fmt.Sprintf("Len on freed object #%d", id)}
	}
	return len(obj.Elements), nil
}

// DerefWeak resolves a weak reference, returning ok=false when the target
// was freed (targetId == -1), per the InvalidWeak error category.
func (h *Heap) DerefWeak(weakID int64) (target int64, ok bool) {
	obj, exists := h.objects[weakID]
	if !exists || obj.Kind != KindWeak || obj.WeakTarget < 0 {
		return -1, false
	}
	return obj.WeakTarget, true
}

// IndexOutOfBoundsError is the runtime bounds-check failure described in
// spec.md §4.2 (a defense-in-depth guard behind the safety prover).
type IndexOutOfBoundsError struct {
	Index  int64
	Length int
}

func (e *IndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("index out of bounds: index=%d length=%d", e.Index, e.Length)
}
