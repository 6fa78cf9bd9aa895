package pager

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rpage"
)

// MetaBlock is the fixed block ID of the metapage.
const MetaBlock uint32 = 0

// RootBlock is the fixed block ID of the entry-tree root.
const RootBlock uint32 = 1

// MetaVersion is the on-disk format version stamped into every metapage.
const MetaVersion uint32 = 0xC0DE0002

const (
	metaOffVersion            = 0
	metaOffHead               = 4
	metaOffTail               = 8
	metaOffTailFreeSize       = 12
	metaOffNPendingPages      = 16
	metaOffNPendingHeapTuples = 20
	metaOffNTotalPages        = 28
	metaOffNEntryPages        = 32
	metaOffNDataPages         = 36
	metaOffNEntries           = 40
	metaOffBuildHeapTuples    = 48
	metaOffBuildIndexTuples   = 56
	metaOffVacuumPagesDeleted = 64
	metaPayloadSize           = 72
)

// Metapage is the block-0 counter page. The pending-list fields (Head,
// Tail, TailFreeSize, NPendingPages, NPendingHeapTuples) exist only for
// layout compatibility; there is no pending list, so they stay zero and
// are never read to route inserts.
type Metapage struct {
	Version      uint32
	Head         uint32
	Tail         uint32
	TailFreeSize uint16

	NPendingPages      uint32
	NPendingHeapTuples int64

	NTotalPages uint32
	NEntryPages uint32
	NDataPages  uint32
	NEntries    int64

	BuildHeapTuples    int64
	BuildIndexTuples   int64
	VacuumPagesDeleted int64
}

// NewMetapage returns the metapage state for a freshly created, empty index:
// one metapage (block 0) and one leaf entry-tree root (block 1).
func NewMetapage() *Metapage {
	return &Metapage{
		Version:     MetaVersion,
		NTotalPages: 2,
		NEntryPages: 1,
	}
}

// Encode renders m into a rpage.Page flagged Meta.
func (m *Metapage) Encode(pageSize int) *rpage.Page {
	p := rpage.New(MetaBlock, pageSize, rpage.FlagMeta)
	buf := p.Data()[:metaPayloadSize]

	binary.LittleEndian.PutUint32(buf[metaOffVersion:], m.Version)
	binary.LittleEndian.PutUint32(buf[metaOffHead:], m.Head)
	binary.LittleEndian.PutUint32(buf[metaOffTail:], m.Tail)
	binary.LittleEndian.PutUint16(buf[metaOffTailFreeSize:], m.TailFreeSize)
	binary.LittleEndian.PutUint32(buf[metaOffNPendingPages:], m.NPendingPages)
	binary.LittleEndian.PutUint64(buf[metaOffNPendingHeapTuples:], uint64(m.NPendingHeapTuples))
	binary.LittleEndian.PutUint32(buf[metaOffNTotalPages:], m.NTotalPages)
	binary.LittleEndian.PutUint32(buf[metaOffNEntryPages:], m.NEntryPages)
	binary.LittleEndian.PutUint32(buf[metaOffNDataPages:], m.NDataPages)
	binary.LittleEndian.PutUint64(buf[metaOffNEntries:], uint64(m.NEntries))
	binary.LittleEndian.PutUint64(buf[metaOffBuildHeapTuples:], uint64(m.BuildHeapTuples))
	binary.LittleEndian.PutUint64(buf[metaOffBuildIndexTuples:], uint64(m.BuildIndexTuples))
	binary.LittleEndian.PutUint64(buf[metaOffVacuumPagesDeleted:], uint64(m.VacuumPagesDeleted))

	p.SetDirty(true)
	return p
}

// DecodeMetapage reads back the layout Encode wrote.
func DecodeMetapage(p *rpage.Page) (*Metapage, error) {
	if !p.HasFlag(rpage.FlagMeta) {
		return nil, errors.WithStack(common.ErrStructureCorrupt)
	}
	buf := p.Data()
	if len(buf) < metaPayloadSize {
		return nil, errors.WithStack(common.ErrStructureCorrupt)
	}

	m := &Metapage{
		Version:            binary.LittleEndian.Uint32(buf[metaOffVersion:]),
		Head:               binary.LittleEndian.Uint32(buf[metaOffHead:]),
		Tail:               binary.LittleEndian.Uint32(buf[metaOffTail:]),
		TailFreeSize:       binary.LittleEndian.Uint16(buf[metaOffTailFreeSize:]),
		NPendingPages:      binary.LittleEndian.Uint32(buf[metaOffNPendingPages:]),
		NPendingHeapTuples: int64(binary.LittleEndian.Uint64(buf[metaOffNPendingHeapTuples:])),
		NTotalPages:        binary.LittleEndian.Uint32(buf[metaOffNTotalPages:]),
		NEntryPages:        binary.LittleEndian.Uint32(buf[metaOffNEntryPages:]),
		NDataPages:         binary.LittleEndian.Uint32(buf[metaOffNDataPages:]),
		NEntries:           int64(binary.LittleEndian.Uint64(buf[metaOffNEntries:])),
		BuildHeapTuples:    int64(binary.LittleEndian.Uint64(buf[metaOffBuildHeapTuples:])),
		BuildIndexTuples:   int64(binary.LittleEndian.Uint64(buf[metaOffBuildIndexTuples:])),
		VacuumPagesDeleted: int64(binary.LittleEndian.Uint64(buf[metaOffVacuumPagesDeleted:])),
	}
	if m.Version != MetaVersion {
		return nil, errors.Wrapf(common.ErrStructureCorrupt, "pager: metapage version %#x, want %#x", m.Version, MetaVersion)
	}
	return m, nil
}

// Stats projects the metapage into the public common.Stats shape.
func (m *Metapage) Stats() common.Stats {
	return common.Stats{
		Version:            m.Version,
		NumTotalPages:      m.NTotalPages,
		NumEntryPages:      m.NEntryPages,
		NumDataPages:       m.NDataPages,
		NumEntries:         m.NEntries,
		NumPendingPages:    m.NPendingPages,
		NumPendingTuples:   m.NPendingHeapTuples,
		BuildHeapTuples:    m.BuildHeapTuples,
		BuildIndexTuples:   m.BuildIndexTuples,
		VacuumPagesDeleted: m.VacuumPagesDeleted,
	}
}
