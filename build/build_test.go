package build

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/pager"
)

func newTestPager(t *testing.T, pageSize int) *pager.Pager {
	t.Helper()
	cfg := common.DefaultConfig(t.TempDir())
	cfg.PageSize = pageSize
	cfg.CacheSize = 256
	p, err := pager.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func int4Index(t *testing.T, pageSize int, maintWorkMem int64) *Index {
	p := newTestPager(t, pageSize)
	cols := []Column{{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}}
	return NewIndex(p, cols, common.AttrDesc{}, false, nil, maintWorkMem)
}

func tid(block uint32, offset uint16) common.ItemPointer {
	return common.ItemPointer{Block: block, Offset: offset}
}

func TestRetailInsertFindsTuple(t *testing.T) {
	idx := int4Index(t, 4096, 0)
	row := map[uint16]ColumnValue{1: {Value: common.NewInt32Datum(42)}}
	require.NoError(t, idx.Insert(tid(0, 1), row, AttachValue{}))

	tup, found, err := idx.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(42))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, tup.Postings, 1)
	require.Equal(t, tid(0, 1), tup.Postings[0].IPtr)
}

func TestRetailInsertHandlesNullValue(t *testing.T) {
	idx := int4Index(t, 4096, 0)
	row := map[uint16]ColumnValue{1: {IsNull: true}}
	require.NoError(t, idx.Insert(tid(0, 1), row, AttachValue{}))

	tup, found, err := idx.EntryTree().Lookup(1, common.CategoryNullKey, common.Datum{})
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, tup.Postings, 1)
}

// Bulk build through the accumulator produces the same entry-tree
// content as the retail insert path over the same rows.
func TestBuildAccumulatorMatchesRetailInsert(t *testing.T) {
	const nRows = 200
	const nKeys = 20

	retail := int4Index(t, 512, 0)
	bulk := int4Index(t, 512, 1<<20)

	for i := 0; i < nRows; i++ {
		k := int32(i % nKeys)
		row := map[uint16]ColumnValue{1: {Value: common.NewInt32Datum(k)}}
		require.NoError(t, retail.Insert(tid(uint32(i), 1), row, AttachValue{}))
		require.NoError(t, bulk.AddToBuild(tid(uint32(i), 1), row, AttachValue{}))
	}
	require.NoError(t, bulk.FinishBuild())

	for k := int32(0); k < nKeys; k++ {
		rTup, rFound, err := retail.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(k))
		require.NoError(t, err)
		bTup, bFound, err := bulk.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(k))
		require.NoError(t, err)
		require.Equal(t, rFound, bFound)
		require.Equal(t, len(rTup.Postings), len(bTup.Postings))
	}
}

func TestAddToBuildAutoFlushesWhenOverMaintWorkMem(t *testing.T) {
	idx := int4Index(t, 4096, 1) // flush after essentially every row
	for i := 0; i < 10; i++ {
		row := map[uint16]ColumnValue{1: {Value: common.NewInt32Datum(int32(i))}}
		require.NoError(t, idx.AddToBuild(tid(uint32(i), 1), row, AttachValue{}))
	}
	require.Equal(t, 0, idx.acc.NGroups(), "auto-flush should have drained the accumulator already")
}

func TestAttachValueOverwritesPerOccurrenceAddInfo(t *testing.T) {
	p := newTestPager(t, 4096)
	cols := []Column{{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}}
	idx := NewIndex(p, cols, opclass.TimestampAttr, true, func(a, b common.Datum) int {
		av, bv := a.Uint64(), b.Uint64()
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}, 0)

	row := map[uint16]ColumnValue{1: {Value: common.NewInt32Datum(7)}}
	attach := AttachValue{Value: common.NewUint64Datum(555), Present: true}
	require.NoError(t, idx.Insert(tid(0, 1), row, attach))

	tup, found, err := idx.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(7))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, tup.Postings, 1)
	require.False(t, tup.Postings[0].AddInfoIsNull)
	require.Equal(t, uint64(555), tup.Postings[0].AddInfo.Uint64())
}
