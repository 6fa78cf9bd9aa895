package rum

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/rumkey"
)

func int4Columns() []ColumnSpec {
	return []ColumnSpec{{
		Name:   "x",
		Column: build.Column{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr},
	}}
}

func tsColumns() []ColumnSpec {
	return []ColumnSpec{
		{Name: "tsv", Column: build.Column{Attnum: 1, VTable: opclass.Tsvector(), KeyAttr: common.AttrDesc{TypLen: common.TypLenVarlena, Align: 1}}},
		{Name: "ts", Column: build.Column{Attnum: 2, VTable: opclass.Timestamp(), KeyAttr: opclass.TimestampAttr}},
	}
}

func tid(block uint32, offset uint16) common.ItemPointer {
	return common.ItemPointer{Block: block, Offset: offset}
}

func TestInsertThenEqualityScan(t *testing.T) {
	am, err := BuildEmpty(common.DefaultConfig(t.TempDir()), int4Columns(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = am.Close() })

	rows := []struct {
		v   int32
		tid common.ItemPointer
	}{
		{5, tid(0, 1)},
		{7, tid(0, 2)},
		{5, tid(0, 3)},
	}
	for _, r := range rows {
		unique, err := am.Insert(r.tid, map[string]common.Datum{"x": common.NewInt32Datum(r.v)}, map[string]bool{"x": false})
		require.NoError(t, err)
		require.False(t, unique, "insert never enforces uniqueness")
	}

	s := am.BeginScan()
	defer s.End()
	require.NoError(t, s.Rescan(ScanKeyArgs{
		Column:    "x",
		Strategy:  opclass.Int4Eq,
		Query:     common.NewInt32Datum(5),
		Direction: Forward,
	}))

	var got []common.ItemPointer
	for {
		res, ok, err := s.GetTuple()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, res.TID)
	}
	require.Equal(t, []common.ItemPointer{tid(0, 1), tid(0, 3)}, got)
}

func TestBuildFromRowSourceMatchesRetailScan(t *testing.T) {
	rows := make([]HeapRow, 0, 30)
	for i := 0; i < 30; i++ {
		rows = append(rows, HeapRow{
			TID:    tid(uint32(i), 1),
			Values: map[string]common.Datum{"x": common.NewInt32Datum(int32(i % 5))},
			Nulls:  map[string]bool{"x": false},
		})
	}
	src := &sliceRowSource{rows: rows}

	am, res, err := Build(common.DefaultConfig(t.TempDir()), int4Columns(), Options{}, src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = am.Close() })
	require.EqualValues(t, 30, res.HeapTuples)
	require.EqualValues(t, 30, res.IndexTuples)

	s := am.BeginScan()
	defer s.End()
	require.NoError(t, s.Rescan(ScanKeyArgs{
		Column:    "x",
		Strategy:  opclass.Int4Eq,
		Query:     common.NewInt32Datum(3),
		Direction: Forward,
	}))
	results, n, err := s.GetBitmap()
	require.NoError(t, err)
	require.EqualValues(t, 6, n) // i = 3, 8, 13, 18, 23, 28
	require.Len(t, results, 6)
}

// A text-match qual ordered by the attached timestamp, descending: the
// result order follows the attached value read straight out of the
// posting entries, not heap access and not insertion order.
func TestAttachOrderByDescending(t *testing.T) {
	cols := tsColumns()
	opts := Options{Attach: "ts", To: "tsv", OrderByAttach: true}
	am, err := BuildEmpty(common.DefaultConfig(t.TempDir()), cols, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = am.Close() })

	rows := []struct {
		tsv string
		ts  uint64
		tid common.ItemPointer
	}{
		{"a b", 1000, tid(1, 1)},
		{"a", 2000, tid(2, 1)},
		{"a", 1500, tid(3, 1)},
	}
	for _, r := range rows {
		_, err := am.Insert(r.tid,
			map[string]common.Datum{"tsv": common.NewBytesDatum([]byte(r.tsv)), "ts": common.NewUint64Datum(r.ts)},
			map[string]bool{"tsv": false, "ts": false})
		require.NoError(t, err)
	}

	s := am.BeginScan()
	defer s.End()
	require.NoError(t, s.Rescan(ScanKeyArgs{
		Column:      "tsv",
		Strategy:    opclass.TsMatch,
		Query:       common.NewBytesDatum([]byte("a")),
		Direction:   rumkey.Backward,
		WantOrdered: true,
	}))

	it, err := s.OrderBy(opclass.TsMatch, common.NewUint64Datum(0), common.DefaultWorkMem, t.TempDir())
	require.NoError(t, err)
	defer it.Close()

	var got []common.ItemPointer
	for {
		item, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, item.TID)
	}
	require.Equal(t, []common.ItemPointer{tid(2, 1), tid(3, 1), tid(1, 1)}, got)
}

func TestOptionsValidation(t *testing.T) {
	cols := tsColumns()

	_, err := ParseOptions(map[string]string{"order_by_attach": "true"}, cols)
	require.ErrorIs(t, err, common.ErrConfigConflict)

	_, err = ParseOptions(map[string]string{"attach": "ts", "to": "ts"}, cols)
	require.ErrorIs(t, err, common.ErrConfigConflict)

	_, err = ParseOptions(map[string]string{"attach": "nosuch", "to": "tsv"}, cols)
	require.ErrorIs(t, err, common.ErrConfigConflict)

	opts, err := ParseOptions(map[string]string{"attach": "ts", "to": "tsv", "order_by_attach": "true"}, cols)
	require.NoError(t, err)
	require.True(t, opts.OrderByAttach)
}

func TestValidateRejectsIncompleteOpclass(t *testing.T) {
	cols := []ColumnSpec{{
		Name:   "x",
		Column: build.Column{Attnum: 1, VTable: opclass.VTable{Compare: opclass.Int4().Compare}, KeyAttr: opclass.Int4Attr},
	}}
	require.ErrorIs(t, Validate(cols), common.ErrConfigConflict)
}

func TestVacuumThroughAccessMethod(t *testing.T) {
	am, err := BuildEmpty(common.DefaultConfig(t.TempDir()), int4Columns(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = am.Close() })

	for i := 0; i < 50; i++ {
		_, err := am.Insert(tid(uint32(i), 1), map[string]common.Datum{"x": common.NewInt32Datum(9)}, map[string]bool{"x": false})
		require.NoError(t, err)
	}

	_, err = am.BulkDelete(func(p common.ItemPointer) bool { return p.Block < 25 })
	require.NoError(t, err)

	s := am.BeginScan()
	defer s.End()
	require.NoError(t, s.Rescan(ScanKeyArgs{
		Column:    "x",
		Strategy:  opclass.Int4Eq,
		Query:     common.NewInt32Datum(9),
		Direction: Forward,
	}))
	_, n, err := s.GetBitmap()
	require.NoError(t, err)
	require.EqualValues(t, 25, n)
}

type sliceRowSource struct {
	rows []HeapRow
	pos  int
}

func (s *sliceRowSource) Next() (HeapRow, bool, error) {
	if s.pos >= len(s.rows) {
		return HeapRow{}, false, nil
	}
	r := s.rows[s.pos]
	s.pos++
	return r, true, nil
}
