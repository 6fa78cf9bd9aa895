package rumsort

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
)

func ascByDistance(a, b RumSortItem) bool { return a.Distances[0] < b.Distances[0] }

func item(block uint32, dist float64) RumSortItem {
	return RumSortItem{TID: common.ItemPointer{Block: block, Offset: 1}, Distances: []float64{dist}}
}

func TestInMemorySortOrdersAscending(t *testing.T) {
	s := NewSorter(t.TempDir(), 0, ascByDistance)
	for _, v := range []float64{5, 1, 4, 2, 3} {
		require.NoError(t, s.Add(item(uint32(v), v)))
	}
	it, err := s.Finish()
	require.NoError(t, err)
	defer it.Close()

	var got []float64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row.Distances[0])
	}
	require.Equal(t, []float64{1, 2, 3, 4, 5}, got)
}

func TestSpillingProducesSameOrderAsInMemory(t *testing.T) {
	const n = 500
	s := NewSorter(t.TempDir(), 256, ascByDistance) // tiny workMem forces many spills
	for i := n - 1; i >= 0; i-- {
		require.NoError(t, s.Add(item(uint32(i), float64(i))))
	}
	it, err := s.Finish()
	require.NoError(t, err)
	defer it.Close()

	prev := -1.0
	count := 0
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.GreaterOrEqual(t, row.Distances[0], prev)
		prev = row.Distances[0]
		count++
	}
	require.Equal(t, n, count)
}

func TestFromSortedSkipsSortingStep(t *testing.T) {
	items := []RumSortItem{item(1, 10), item(2, 20), item(3, 30)}
	it := FromSorted(items)
	defer it.Close()

	var got []float64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row.Distances[0])
	}
	require.Equal(t, []float64{10, 20, 30}, got)
}

func TestRecheckAndTIDRoundTripThroughSpill(t *testing.T) {
	s := NewSorter(t.TempDir(), 64, ascByDistance)
	a := RumSortItem{TID: common.ItemPointer{Block: 1, Offset: 7}, Recheck: true, Distances: []float64{1}}
	b := RumSortItem{TID: common.ItemPointer{Block: 2, Offset: 9}, Recheck: false, Distances: []float64{2}}
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	it, err := s.Finish()
	require.NoError(t, err)
	defer it.Close()

	first, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.TID, first.TID)
	require.True(t, first.Recheck)

	second, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.TID, second.TID)
	require.False(t, second.Recheck)
}
