package rbtree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumkey"
)

func int4Cmp(_ uint16, a, b common.Datum) int {
	x, y := a.Int32(), b.Int32()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func int4CmpAddInfo(a, b common.Datum) int {
	x, y := a.Int32(), b.Int32()
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func key(v int32) EntryKey {
	return EntryKey{Attnum: 1, Category: common.CategoryNorm, Key: common.NewInt32Datum(v)}
}

func occ(block uint32, offset uint16) rumkey.RumKey {
	return rumkey.RumKey{IPtr: common.ItemPointer{Block: block, Offset: offset}}
}

func TestInsertGroupsByKey(t *testing.T) {
	tr := NewTree(int4Cmp, false)
	tr.Insert(key(1), occ(1, 1))
	tr.Insert(key(1), occ(2, 1))
	tr.Insert(key(2), occ(1, 1))
	require.Equal(t, 2, tr.NGroups())

	groups := tr.Drain(nil)
	require.Len(t, groups, 2)
	require.Equal(t, int32(1), groups[0].Key.Key.Int32())
	require.Len(t, groups[0].Occs, 2)
	require.Equal(t, int32(2), groups[1].Key.Key.Int32())
	require.Len(t, groups[1].Occs, 1)
}

func TestDrainYieldsKeysInAscendingOrder(t *testing.T) {
	tr := NewTree(int4Cmp, false)
	values := []int32{50, 10, 70, 20, 60, 5, 90, 30}
	for _, v := range values {
		tr.Insert(key(v), occ(1, 1))
	}
	groups := tr.Drain(nil)
	require.Len(t, groups, len(values))
	for i := 1; i < len(groups); i++ {
		require.True(t, groups[i-1].Key.Key.Int32() < groups[i].Key.Key.Int32())
	}
}

func TestDrainSortsOutOfOrderOccurrences(t *testing.T) {
	tr := NewTree(int4Cmp, false)
	tr.Insert(key(1), occ(5, 1))
	tr.Insert(key(1), occ(3, 1))
	tr.Insert(key(1), occ(9, 1))

	groups := tr.Drain(nil)
	require.Len(t, groups, 1)
	occs := groups[0].Occs
	for i := 1; i < len(occs); i++ {
		require.True(t, occs[i-1].IPtr.Compare(occs[i].IPtr) < 0)
	}
}

func TestDrainSkipsSortWhenAlreadyAscending(t *testing.T) {
	tr := NewTree(int4Cmp, false)
	tr.Insert(key(1), occ(1, 1))
	tr.Insert(key(1), occ(2, 1))
	tr.Insert(key(1), occ(3, 1))

	groups := tr.Drain(nil)
	require.False(t, groups[0].shouldSort)
	require.Equal(t, []rumkey.RumKey{occ(1, 1), occ(2, 1), occ(3, 1)}, groups[0].Occs)
}

func TestDrainResetsAccumulator(t *testing.T) {
	tr := NewTree(int4Cmp, false)
	tr.Insert(key(1), occ(1, 1))
	tr.Drain(nil)
	require.Equal(t, 0, tr.NGroups())
	require.Equal(t, int64(0), tr.MemEstimate())

	tr.Insert(key(2), occ(1, 1))
	groups := tr.Drain(nil)
	require.Len(t, groups, 1)
	require.Equal(t, int32(2), groups[0].Key.Key.Int32())
}

func TestAltOrderAlwaysSortsByRumKeyCompare(t *testing.T) {
	tr := NewTree(int4Cmp, true)
	k := key(1)
	a := rumkey.RumKey{IPtr: common.ItemPointer{Block: 1, Offset: 1}, AddInfo: common.NewInt32Datum(30)}
	b := rumkey.RumKey{IPtr: common.ItemPointer{Block: 1, Offset: 2}, AddInfo: common.NewInt32Datum(10)}
	tr.Insert(k, a)
	tr.Insert(k, b)

	groups := tr.Drain(int4CmpAddInfo)
	require.Len(t, groups, 1)
	require.Equal(t, int32(10), groups[0].Occs[0].AddInfo.Int32())
	require.Equal(t, int32(30), groups[0].Occs[1].AddInfo.Int32())
}

func TestManyRandomInsertsProduceSortedDrain(t *testing.T) {
	tr := NewTree(int4Cmp, false)
	rng := rand.New(rand.NewSource(1))
	seen := map[int32]bool{}
	var inserted []int32
	for i := 0; i < 5000; i++ {
		v := rng.Int31n(2000)
		if !seen[v] {
			seen[v] = true
			inserted = append(inserted, v)
		}
		tr.Insert(key(v), occ(uint32(i+1), 1))
	}
	groups := tr.Drain(nil)
	require.Len(t, groups, len(inserted))
	for i := 1; i < len(groups); i++ {
		require.True(t, groups[i-1].Key.Key.Int32() < groups[i].Key.Key.Int32())
	}
}

func TestInsertionOrderCoversAllIndicesOnce(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 7, 8, 9, 16, 100} {
		order := InsertionOrder(n)
		require.Len(t, order, n)
		seen := make([]bool, n)
		for _, idx := range order {
			require.False(t, seen[idx])
			seen[idx] = true
		}
	}
}
