package posting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

func TestEncodeDecodeAllRoundTrip(t *testing.T) {
	page := rpage.New(1, 4096, rpage.FlagLeaf|rpage.FlagData)
	keys := []rumkey.RumKey{
		occ(0, 1),
		occ(0, 5),
		occ(2, 1),
		{IPtr: common.ItemPointer{Block: 4, Offset: 1}, AddInfoIsNull: false, AddInfo: common.NewInt32Datum(17)},
	}
	require.NoError(t, EncodeAll(page, keys, keys[len(keys)-1], int4Attr))

	got, err := DecodeAll(page, int4Attr)
	require.NoError(t, err)
	require.Equal(t, keys, got)
	require.Equal(t, 4, NEntries(page))
}

func TestEncodeAllReturnsErrPageFullWhenOversize(t *testing.T) {
	page := rpage.New(1, 256, rpage.FlagLeaf|rpage.FlagData)
	keys := make([]rumkey.RumKey, 50)
	for i := range keys {
		keys[i] = occ(uint32(i), 1)
	}
	err := EncodeAll(page, keys, keys[len(keys)-1], int4Attr)
	require.ErrorIs(t, err, rpage.ErrPageFull)
}

func TestSparseIndexSeekFindsNearestAnchor(t *testing.T) {
	page := rpage.New(1, 8192, rpage.FlagLeaf|rpage.FlagData)
	keys := make([]rumkey.RumKey, 200)
	for i := range keys {
		keys[i] = occ(uint32(i), 1)
	}
	require.NoError(t, EncodeAll(page, keys, keys[len(keys)-1], int4Attr))

	idx := SeekIndex(page, common.ItemPointer{Block: 100, Offset: 1})
	require.LessOrEqual(t, idx, 100)
	require.True(t, keys[idx].IPtr.Compare(common.ItemPointer{Block: 100, Offset: 1}) <= 0)
}

func TestRightBoundOnEmptyLeafIsNullSentinel(t *testing.T) {
	page := rpage.New(1, 4096, rpage.FlagLeaf|rpage.FlagData)
	initLeaf(page)
	bound, err := RightBound(page, int4Attr)
	require.NoError(t, err)
	require.True(t, bound.AddInfoIsNull)
}
