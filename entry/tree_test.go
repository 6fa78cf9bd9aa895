package entry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

var int4Attr = common.AttrDesc{TypLen: common.TypLen4, ByVal: true, Align: 4}

func int4Cmp(_ uint16, a, b common.Datum) int {
	av, bv := a.Int32(), b.Int32()
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func testCodec() KeyCodec {
	return KeyCodec{AttrFor: func(uint16) common.AttrDesc { return int4Attr }, CompareDatum: int4Cmp}
}

func occ(block uint32, offset uint16) rumkey.RumKey {
	return rumkey.RumKey{IPtr: common.ItemPointer{Block: block, Offset: offset}, AddInfoIsNull: true}
}

func TestEncodeDecodeTupleRoundTripInline(t *testing.T) {
	codec := testCodec()
	tup := Tuple{
		Attnum:      1,
		Category:    common.CategoryNorm,
		Key:         common.NewInt32Datum(42),
		Postings:    []rumkey.RumKey{occ(0, 1), occ(0, 2), occ(3, 0)},
		PostingRoot: rpage.InvalidBlock,
	}
	buf, err := EncodeTuple(codec, int4Attr, tup)
	require.NoError(t, err)

	got, err := DecodeTuple(codec, int4Attr, buf)
	require.NoError(t, err)
	require.Equal(t, tup.Attnum, got.Attnum)
	require.Equal(t, tup.Category, got.Category)
	require.Equal(t, tup.Key.Int32(), got.Key.Int32())
	require.Equal(t, tup.Postings, got.Postings)
	require.Equal(t, rpage.InvalidBlock, got.PostingRoot)
}

func TestEncodeDecodeTuplePostingTreeReference(t *testing.T) {
	codec := testCodec()
	tup := Tuple{Attnum: 1, Category: common.CategoryNorm, Key: common.NewInt32Datum(7), PostingRoot: 99}
	buf, err := EncodeTuple(codec, int4Attr, tup)
	require.NoError(t, err)

	got, err := DecodeTuple(codec, int4Attr, buf)
	require.NoError(t, err)
	require.EqualValues(t, 99, got.PostingRoot)
	require.Nil(t, got.Postings)
}

func TestKeyCodecCompareOrdersByCategoryThenKey(t *testing.T) {
	codec := testCodec()
	nullKey := codec.EncodePrefix(1, common.CategoryNullKey, common.Datum{})
	norm5 := codec.EncodePrefix(1, common.CategoryNorm, common.NewInt32Datum(5))
	norm10 := codec.EncodePrefix(1, common.CategoryNorm, common.NewInt32Datum(10))

	require.Less(t, codec.Compare(nullKey, norm5), 0)
	require.Less(t, codec.Compare(norm5, norm10), 0)
	require.Greater(t, codec.Compare(norm10, norm5), 0)
	require.Equal(t, 0, codec.Compare(norm5, norm5))
}

type fakePostingInserter struct {
	createCalls [][]rumkey.RumKey
	insertRoot  []uint32
	insertItems [][]rumkey.RumKey
	nextRoot    uint32
}

func (f *fakePostingInserter) Create(items []rumkey.RumKey) (uint32, error) {
	f.nextRoot++
	f.createCalls = append(f.createCalls, items)
	return f.nextRoot, nil
}

func (f *fakePostingInserter) Insert(root uint32, items []rumkey.RumKey) (uint32, error) {
	f.insertRoot = append(f.insertRoot, root)
	f.insertItems = append(f.insertItems, items)
	return root, nil
}

func newTestEntryTree(t *testing.T, pageSize int) *Tree {
	t.Helper()
	cfg := common.DefaultConfig(t.TempDir())
	cfg.PageSize = pageSize
	cfg.CacheSize = 64
	p, err := pager.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return NewTree(p, testCodec(), int4Attr, false, nil, pager.RootBlock)
}

func TestInsertCreatesNewTupleWhenAbsent(t *testing.T) {
	tree := newTestEntryTree(t, 4096)
	pi := &fakePostingInserter{}
	err := tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(5), []rumkey.RumKey{occ(0, 1)}, pi)
	require.NoError(t, err)

	tup, found, err := tree.Lookup(1, common.CategoryNorm, common.NewInt32Datum(5))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []rumkey.RumKey{occ(0, 1)}, tup.Postings)
	require.Empty(t, pi.createCalls)
}

func TestInsertMergesOccurrencesAndOverwritesAddInfoOnCollision(t *testing.T) {
	tree := newTestEntryTree(t, 4096)
	pi := &fakePostingInserter{}
	require.NoError(t, tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(5), []rumkey.RumKey{occ(0, 1)}, pi))

	overwrite := rumkey.RumKey{IPtr: common.ItemPointer{Block: 0, Offset: 1}, AddInfoIsNull: false, AddInfo: common.NewInt32Datum(99)}
	require.NoError(t, tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(5), []rumkey.RumKey{occ(0, 2), overwrite}, pi))

	tup, found, err := tree.Lookup(1, common.CategoryNorm, common.NewInt32Datum(5))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, tup.Postings, 2)
	require.False(t, tup.Postings[0].AddInfoIsNull)
	require.Equal(t, int32(99), tup.Postings[0].AddInfo.Int32())
	require.Equal(t, occ(0, 2), tup.Postings[1])
}

func TestInsertConvertsToPostingTreeReferenceWhenOversize(t *testing.T) {
	tree := newTestEntryTree(t, 256)
	pi := &fakePostingInserter{}

	many := make([]rumkey.RumKey, 0, 80)
	for i := uint16(0); i < 80; i++ {
		many = append(many, occ(0, i+1))
	}
	require.NoError(t, tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(5), many, pi))

	tup, found, err := tree.Lookup(1, common.CategoryNorm, common.NewInt32Datum(5))
	require.NoError(t, err)
	require.True(t, found)
	require.NotEqual(t, rpage.InvalidBlock, tup.PostingRoot)
	require.Nil(t, tup.Postings)
	require.Len(t, pi.createCalls, 1)
	require.Len(t, pi.createCalls[0], 80)
}

func TestInsertStreamsIntoExistingPostingTreeReference(t *testing.T) {
	tree := newTestEntryTree(t, 256)
	pi := &fakePostingInserter{}

	many := make([]rumkey.RumKey, 0, 80)
	for i := uint16(0); i < 80; i++ {
		many = append(many, occ(0, i+1))
	}
	require.NoError(t, tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(5), many, pi))
	require.Len(t, pi.createCalls, 1)

	more := []rumkey.RumKey{occ(1, 1)}
	require.NoError(t, tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(5), more, pi))
	require.Len(t, pi.insertRoot, 1)
	require.Equal(t, more, pi.insertItems[0])
}

func TestInsertManyDistinctKeysCausesRootSplitAndStaysDiscoverable(t *testing.T) {
	tree := newTestEntryTree(t, 256)
	pi := &fakePostingInserter{}

	const n = 60
	for i := int32(0); i < n; i++ {
		require.NoError(t, tree.Insert(1, common.CategoryNorm, common.NewInt32Datum(i), []rumkey.RumKey{occ(0, uint16(i)+1)}, pi))
	}

	root, err := tree.Pager.GetPage(tree.RootID)
	require.NoError(t, err)
	require.False(t, root.IsLeaf(), "root should have split into an internal page")

	for i := int32(0); i < n; i++ {
		tup, found, err := tree.Lookup(1, common.CategoryNorm, common.NewInt32Datum(i))
		require.NoError(t, err)
		require.True(t, found, "key %d should remain discoverable after splits", i)
		require.Len(t, tup.Postings, 1)
	}
}
