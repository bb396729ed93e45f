package topk

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapKeepsLowest(t *testing.T) {
	h := New(3)
	for i, s := range []float64{5, 1, 4, 2, 3} {
		h.Push(Item{ID: int64(i), Score: s})
	}

	got := h.Sorted()
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{got[0].Score, got[1].Score, got[2].Score})
	assert.Equal(t, []int64{1, 3, 4}, []int64{got[0].ID, got[1].ID, got[2].ID})
}

func TestHeapTieBreakByID(t *testing.T) {
	h := New(2)
	assert.True(t, h.Push(Item{ID: 9, Score: 1}))
	assert.True(t, h.Push(Item{ID: 5, Score: 1}))
	assert.True(t, h.Push(Item{ID: 1, Score: 1}))
	assert.False(t, h.Push(Item{ID: 7, Score: 1}))

	got := h.Sorted()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(5), got[1].ID)
}

func TestHeapFewerThanK(t *testing.T) {
	h := New(10)
	h.Push(Item{ID: 2, Score: 0.5})
	h.Push(Item{ID: 1, Score: 0.5})

	got := h.Sorted()
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, 0, h.Len())
}

func TestHeapMatchesSort(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	all := make([]Item, 500)
	h := New(25)
	for i := range all {
		all[i] = Item{ID: int64(i), Score: float64(r.IntN(50))}
		h.Push(all[i])
	}
	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })

	assert.Equal(t, all[:25], h.Sorted())
}
