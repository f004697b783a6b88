package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeBufferAddAndOutgoing(t *testing.T) {
	b := newEdgeBuffer()
	b.addEdge(1, 2, edgeKindStrong)
	b.addEdge(1, 3, edgeKindStrong)
	assert.ElementsMatch(t, []int64{2, 3}, b.Outgoing(1))
	assert.Empty(t, b.Outgoing(2))
}

func TestEdgeBufferRemoveTombstonesFirstMatch(t *testing.T) {
	b := newEdgeBuffer()
	b.addEdge(1, 2, edgeKindStrong)
	b.addEdge(1, 2, edgeKindStrong)
	// Edges from another source keep one tombstone (1 of 5 records) below
	// compactThreshold, so it is not compacted away straight after removal.
	b.addEdge(3, 4, edgeKindStrong)
	b.addEdge(3, 5, edgeKindStrong)
	b.addEdge(3, 6, edgeKindStrong)
	b.removeEdge(1, 2)
	assert.Equal(t, []int64{2}, b.Outgoing(1))
	assert.Equal(t, 1, b.InvalidCount())
}

func TestEdgeBufferCompactsAtThreshold(t *testing.T) {
	b := newEdgeBuffer()
	for i := int64(0); i < 8; i++ {
		b.addEdge(1, i, edgeKindStrong)
	}
	// Remove a quarter of them: crosses compactThreshold and triggers an
	// automatic compaction, after which InvalidCount resets to 0.
	b.removeEdge(1, 0)
	b.removeEdge(1, 1)
	assert.Equal(t, 0, b.InvalidCount())
	assert.Equal(t, 6, b.Len())
}

func TestEdgeBufferExplicitCompact(t *testing.T) {
	b := newEdgeBuffer()
	b.addEdge(1, 2, edgeKindStrong)
	b.addEdge(1, 3, edgeKindStrong)
	b.removeEdge(1, 2)
	b.Compact()
	assert.Equal(t, 0, b.InvalidCount())
	assert.Equal(t, 1, b.Len())
}
