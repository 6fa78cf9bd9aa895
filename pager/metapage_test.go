package pager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rumindex/rum/rpage"
)

func TestMetapageEncodeDecodeRoundTrip(t *testing.T) {
	m := &Metapage{
		Version:            MetaVersion,
		NTotalPages:        10,
		NEntryPages:        3,
		NDataPages:         6,
		NEntries:           1000,
		BuildHeapTuples:    500,
		BuildIndexTuples:   1000,
		VacuumPagesDeleted: 2,
	}
	page := m.Encode(512)
	require.True(t, page.HasFlag(rpage.FlagMeta))

	got, err := DecodeMetapage(page)
	require.NoError(t, err)
	require.Equal(t, m.NTotalPages, got.NTotalPages)
	require.Equal(t, m.NEntries, got.NEntries)
	require.Equal(t, m.VacuumPagesDeleted, got.VacuumPagesDeleted)
}

func TestDecodeMetapageRejectsBadVersion(t *testing.T) {
	m := &Metapage{Version: 1}
	page := m.Encode(512)
	_, err := DecodeMetapage(page)
	require.Error(t, err)
}
