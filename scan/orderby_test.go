package scan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rumkey"
)

func timestampCmp(a, b common.Datum) int {
	av, bv := a.Uint64(), b.Uint64()
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func TestRunOrderBySortsByOuterOrdering(t *testing.T) {
	cfg := common.DefaultConfig(t.TempDir())
	cfg.PageSize = 4096
	cfg.CacheSize = 256
	p, err := pager.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	cols := []build.Column{{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}}
	idx := build.NewIndex(p, cols, opclass.TimestampAttr, true, timestampCmp, 0)

	// every row shares the same entry key; attach value (descending
	// insertion order) becomes each occurrence's addInfo.
	attaches := []uint64{30, 10, 20}
	for i, ts := range attaches {
		row := map[uint16]build.ColumnValue{1: {Value: common.NewInt32Datum(1)}}
		attach := build.AttachValue{Value: common.NewUint64Datum(ts), Present: true}
		require.NoError(t, idx.Insert(tid(uint32(i), 1), row, attach))
	}

	col := idx.Columns[1]
	sk := Plan(col, opclass.Int4Eq, common.NewInt32Datum(1))
	ex, err := NewExecutor(idx, col, sk, rumkey.Forward)
	require.NoError(t, err)

	// OuterOrdering comes from the attach column's own opclass, not the
	// indexed column's -- order_by_attach configures a single index-wide
	// attach type distinct from whatever each indexed column stores.
	attachCol := build.Column{VTable: opclass.Timestamp(), KeyAttr: opclass.TimestampAttr}
	query := common.NewUint64Datum(0)
	it, err := RunOrderBy(ex, attachCol, opclass.Int4Eq, query, true, 0, t.TempDir())
	require.NoError(t, err)
	defer it.Close()

	var dists []float64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		dists = append(dists, row.Distances[0])
	}
	require.Equal(t, []float64{10, 20, 30}, dists)
}

func TestRunOrderByBackwardStreamsDescendingFromAltOrder(t *testing.T) {
	cfg := common.DefaultConfig(t.TempDir())
	cfg.PageSize = 4096
	cfg.CacheSize = 256
	p, err := pager.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	cols := []build.Column{{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}}
	idx := build.NewIndex(p, cols, opclass.TimestampAttr, true, timestampCmp, 0)

	for i, ts := range []uint64{30, 10, 20} {
		row := map[uint16]build.ColumnValue{1: {Value: common.NewInt32Datum(1)}}
		attach := build.AttachValue{Value: common.NewUint64Datum(ts), Present: true}
		require.NoError(t, idx.Insert(tid(uint32(i), 1), row, attach))
	}

	col := idx.Columns[1]
	sk := Plan(col, opclass.Int4Eq, common.NewInt32Datum(1))
	ex, err := NewExecutor(idx, col, sk, rumkey.Backward)
	require.NoError(t, err)

	attachCol := build.Column{VTable: opclass.Timestamp(), KeyAttr: opclass.TimestampAttr}
	it, err := RunOrderBy(ex, attachCol, opclass.Int4Eq, common.NewUint64Datum(0), true, 0, t.TempDir())
	require.NoError(t, err)
	defer it.Close()

	var dists []float64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		dists = append(dists, row.Distances[0])
	}
	require.Equal(t, []float64{30, 20, 10}, dists)
}

func TestRunOrderByBackwardWithoutAttachIsRejected(t *testing.T) {
	cfg := common.DefaultConfig(t.TempDir())
	cfg.PageSize = 4096
	cfg.CacheSize = 64
	p, err := pager.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	cols := []build.Column{{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}}
	idx := build.NewIndex(p, cols, common.AttrDesc{}, false, nil, 0)

	col := idx.Columns[1]
	sk := Plan(col, opclass.Int4Eq, common.NewInt32Datum(1))
	ex, err := NewExecutor(idx, col, sk, rumkey.Backward)
	require.NoError(t, err)

	_, err = RunOrderBy(ex, col, opclass.Int4Eq, common.NewInt32Datum(1), false, 0, t.TempDir())
	require.ErrorIs(t, err, ErrReverseUnsupported)
}
