package debugger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakpointManagerSetIsIdempotentPerLocation(t *testing.T) {
	bm := NewBreakpointManager()
	a := bm.Set("main.etch", 10, "")
	b := bm.Set("main.etch", 10, "x > 0")
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, "x > 0", bm.At("main.etch", 10).Condition)
}

func TestBreakpointManagerReplaceForFile(t *testing.T) {
	bm := NewBreakpointManager()
	bm.Set("main.etch", 1, "")
	bm.Set("main.etch", 2, "")
	bm.Set("other.etch", 5, "")

	result := bm.ReplaceForFile("main.etch", []int{3, 4}, nil)
	require.Len(t, result, 2)
	assert.Nil(t, bm.At("main.etch", 1))
	assert.Nil(t, bm.At("main.etch", 2))
	assert.NotNil(t, bm.At("main.etch", 3))
	assert.NotNil(t, bm.At("main.etch", 4))
	assert.NotNil(t, bm.At("other.etch", 5), "breakpoints in other files must survive")
}

func TestBreakpointManagerDelete(t *testing.T) {
	bm := NewBreakpointManager()
	bp := bm.Set("main.etch", 1, "")
	require.NoError(t, bm.Delete(bp.ID))
	assert.Nil(t, bm.At("main.etch", 1))
	assert.Error(t, bm.Delete(bp.ID))
}

func TestBreakpointManagerProcessHitIncrementsCount(t *testing.T) {
	bm := NewBreakpointManager()
	bm.Set("main.etch", 1, "")
	hit := bm.ProcessHit("main.etch", 1)
	require.NotNil(t, hit)
	assert.Equal(t, 1, hit.HitCount)
	assert.Equal(t, 1, bm.At("main.etch", 1).HitCount)

	hit = bm.ProcessHit("main.etch", 1)
	assert.Equal(t, 2, hit.HitCount)
}

func TestBreakpointManagerProcessHitIgnoresDisabled(t *testing.T) {
	bm := NewBreakpointManager()
	bp := bm.Set("main.etch", 1, "")
	bp.Enabled = false
	assert.Nil(t, bm.ProcessHit("main.etch", 1))
}

func TestBreakpointManagerClear(t *testing.T) {
	bm := NewBreakpointManager()
	bm.Set("main.etch", 1, "")
	bm.Set("main.etch", 2, "")
	bm.Clear()
	assert.Empty(t, bm.All())
}
