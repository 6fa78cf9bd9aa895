package scan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
)

func int4Col() build.Column {
	return build.Column{Attnum: 1, VTable: opclass.Int4(), KeyAttr: opclass.Int4Attr}
}

func TestPlanEqualityIsExactMatch(t *testing.T) {
	sk := Plan(int4Col(), opclass.Int4Eq, common.NewInt32Datum(7))
	require.Len(t, sk.Entries, 1)
	require.False(t, sk.Entries[0].IsPartial)
	require.Equal(t, common.CategoryNorm, sk.Entries[0].Category)
}

func TestPlanRangeIsPartialMatch(t *testing.T) {
	sk := Plan(int4Col(), opclass.Int4Ge, common.NewInt32Datum(7))
	require.Len(t, sk.Entries, 1)
	require.True(t, sk.Entries[0].IsPartial)
}

func TestPlanSelectsFastScanForExactMatch(t *testing.T) {
	sk := Plan(int4Col(), opclass.Int4Eq, common.NewInt32Datum(7))
	require.Equal(t, FastScan, sk.ExecMode)
}

func TestPlanSelectsRegularScanForPartialMatch(t *testing.T) {
	sk := Plan(int4Col(), opclass.Int4Ge, common.NewInt32Datum(7))
	require.Equal(t, RegularScan, sk.ExecMode)
}

func TestPlanSelectsRegularScanWithoutPreConsistent(t *testing.T) {
	col := build.Column{Attnum: 1, VTable: opclass.VTable{
		Compare:      opclass.Int4().Compare,
		ExtractValue: opclass.Int4().ExtractValue,
		ExtractQuery: opclass.Int4().ExtractQuery,
		Consistent:   opclass.Int4().Consistent,
	}, KeyAttr: opclass.Int4Attr}
	sk := Plan(col, opclass.Int4Eq, common.NewInt32Datum(7))
	require.Equal(t, RegularScan, sk.ExecMode)
}

func TestDedupEntriesCollapsesDuplicates(t *testing.T) {
	entries := []ScanEntry{
		{Category: common.CategoryNorm, Key: common.NewInt32Datum(1)},
		{Category: common.CategoryNorm, Key: common.NewInt32Datum(1)},
		{Category: common.CategoryNorm, Key: common.NewInt32Datum(2)},
	}
	out := dedupEntries(entries, opclass.Int4().Compare)
	require.Len(t, out, 2)
}
