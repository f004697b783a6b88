package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kunitoki/etch/vmvalue"
)

// TestCollectCyclesFreesSelfContainedCycle builds A <-> B referencing only
// each other, with no external root, and checks that CollectCycles frees
// both even though refcounting alone never would (each holds the other at
// strongRefs=1 forever).
func TestCollectCyclesFreesSelfContainedCycle(t *testing.T) {
	h := New()
	a := h.AllocTable()
	b := h.AllocTable()
	require.NoError(t, h.SetField(a, "other", vmvalue.NewRef(b)))
	require.NoError(t, h.SetField(b, "other", vmvalue.NewRef(a)))

	// Drop the caller's own holds so each is retained only by the other.
	h.DecRef(a)
	h.DecRef(b)
	require.NotNil(t, h.Get(a))
	require.NotNil(t, h.Get(b))

	freed := h.CollectCycles(nil)
	assert.ElementsMatch(t, []int64{a, b}, freed)
	assert.Nil(t, h.Get(a))
	assert.Nil(t, h.Get(b))
}

func TestCollectCyclesKeepsRootedObjects(t *testing.T) {
	h := New()
	root := h.AllocTable()
	child := h.AllocTable()
	require.NoError(t, h.SetField(root, "child", vmvalue.NewRef(child)))

	freed := h.CollectCycles([]int64{root})
	assert.Empty(t, freed)
	assert.NotNil(t, h.Get(root))
	assert.NotNil(t, h.Get(child))
}

func TestCollectCyclesIsNoopWithoutGarbage(t *testing.T) {
	h := New()
	id := h.AllocTable()
	freed := h.CollectCycles([]int64{id})
	assert.Empty(t, freed)
}
