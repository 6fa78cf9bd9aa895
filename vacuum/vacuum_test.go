package vacuum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/latch"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

func newTestIndex(t *testing.T, pageSize int) *build.Index {
	t.Helper()
	cfg := common.DefaultConfig(t.TempDir())
	cfg.PageSize = pageSize
	cfg.CacheSize = 256
	p, err := pager.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	cols := []build.Column{{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}}
	return build.NewIndex(p, cols, common.AttrDesc{}, false, nil, 0)
}

func tid(block uint32, offset uint16) common.ItemPointer {
	return common.ItemPointer{Block: block, Offset: offset}
}

// Vacuum empties a posting tree -- insert many occurrences under one
// key, past the inline-list threshold so a posting tree is created, then
// bulkdelete everything and confirm the posting tree scans empty and at
// least one page got deleted.
func TestVacuumEmptiesPostingTree(t *testing.T) {
	const n = 1000
	idx := newTestIndex(t, 512)

	for i := 0; i < n; i++ {
		row := map[uint16]build.ColumnValue{1: {Value: common.NewInt32Datum(7)}}
		require.NoError(t, idx.Insert(tid(uint32(i), 1), row, build.AttachValue{}))
	}

	tup, found, err := idx.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(7))
	require.NoError(t, err)
	require.True(t, found)
	require.NotEqual(t, rpage.InvalidBlock, tup.PostingRoot, "1000 occurrences must have overflowed to a posting tree")

	latches := latch.NewManager()
	stats, err := Run(idx, latches, func(common.ItemPointer) bool { return true })
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.PagesDeleted, int64(1))

	tup, found, err = idx.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(7))
	require.NoError(t, err)
	require.True(t, found, "entry tree is static -- the key stays, even with nothing left under it")

	c, err := idx.Postings().NewFullScan(tup.PostingRoot, rumkey.Forward)
	require.NoError(t, err)
	_, ok, err := c.Next()
	require.NoError(t, err)
	require.False(t, ok, "every occurrence under the key was deleted")
}

// After bulkdelete with a callback that only drops even
// tids, every odd tid must survive and every even one must be gone.
func TestVacuumFiltersByCallback(t *testing.T) {
	const n = 200
	idx := newTestIndex(t, 512)

	for i := 0; i < n; i++ {
		row := map[uint16]build.ColumnValue{1: {Value: common.NewInt32Datum(3)}}
		require.NoError(t, idx.Insert(tid(uint32(i), 1), row, build.AttachValue{}))
	}

	latches := latch.NewManager()
	_, err := Run(idx, latches, func(p common.ItemPointer) bool { return p.Block%2 == 0 })
	require.NoError(t, err)

	tup, found, err := idx.EntryTree().Lookup(1, common.CategoryNorm, common.NewInt32Datum(3))
	require.NoError(t, err)
	require.True(t, found)

	seen := make(map[uint32]bool)
	if tup.PostingRoot != rpage.InvalidBlock {
		c, err := idx.Postings().NewFullScan(tup.PostingRoot, rumkey.Forward)
		require.NoError(t, err)
		for {
			k, ok, err := c.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			seen[k.IPtr.Block] = true
		}
	} else {
		for _, k := range tup.Postings {
			seen[k.IPtr.Block] = true
		}
	}

	for i := uint32(0); i < n; i++ {
		if i%2 == 0 {
			require.False(t, seen[i], "even tid %d should have been vacuumed", i)
		} else {
			require.True(t, seen[i], "odd tid %d should have survived", i)
		}
	}
}
