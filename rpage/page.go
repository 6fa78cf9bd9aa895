// Package rpage implements RUM's on-disk page format: a fixed-size page
// with a cell directory growing up from the header, cell bodies growing
// down from the end, and an opaque trailer describing page kind and
// sibling links.
package rpage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
)

// Flag bits.
const (
	FlagData = 1 << iota
	FlagLeaf
	FlagDeleted
	FlagMeta
	FlagList
	FlagListFullRow
)

// TrailerSize is the fixed size of the RUM opaque trailer: two four-byte
// sibling links, three uint16 fields, and two reserved padding bytes.
// What matters is that the trailer is a fixed size distinct from other
// access methods' opaque areas, so a page is never misread as belonging
// to a different index type.
const TrailerSize = 16

const (
	trailerOffLeft      = 0
	trailerOffRight     = 4
	trailerOffMaxOff     = 8
	trailerOffFreeSpace  = 10
	trailerOffFlags      = 12
	// bytes 14-15 reserved, must stay zero.
)

const headerSize = 4 // numCells(2) + freePtr(2)

var (
	ErrPageFull     = errors.New("rpage: page is full")
	ErrCellNotFound = errors.New("rpage: cell not found")
)

// InvalidBlock is the sentinel "no such page" block id (0 is a legitimate
// block id for the metapage, so sibling links use this value instead).
const InvalidBlock = ^uint32(0)

// Page is one fixed-size page of the index file.
type Page struct {
	id    uint32
	data  []byte
	dirty bool
}

// New allocates a zeroed page of the given kind (a combination of the Flag
// constants) and size.
func New(id uint32, size int, flags uint16) *Page {
	p := &Page{id: id, data: make([]byte, size), dirty: true}
	binary.BigEndian.PutUint16(p.data[0:], 0)
	p.setFreePtr(uint16(size - TrailerSize))
	p.SetLeftLink(InvalidBlock)
	p.SetRightLink(InvalidBlock)
	p.setFlags(flags)
	return p
}

// Load wraps raw bytes read from disk as a Page, without copying.
func Load(id uint32, data []byte) *Page {
	return &Page{id: id, data: data}
}

func (p *Page) ID() uint32     { return p.id }
func (p *Page) Data() []byte   { return p.data }
func (p *Page) IsDirty() bool  { return p.dirty }
func (p *Page) SetDirty(d bool) { p.dirty = d }

func (p *Page) trailerOff(off int) int { return len(p.data) - TrailerSize + off }

func (p *Page) Flags() uint16 {
	return binary.BigEndian.Uint16(p.data[p.trailerOff(trailerOffFlags):])
}
func (p *Page) setFlags(f uint16) {
	binary.BigEndian.PutUint16(p.data[p.trailerOff(trailerOffFlags):], f)
	p.dirty = true
}
func (p *Page) HasFlag(f uint16) bool { return p.Flags()&f != 0 }
func (p *Page) SetFlag(f uint16)      { p.setFlags(p.Flags() | f) }
func (p *Page) ClearFlag(f uint16)    { p.setFlags(p.Flags() &^ f) }

func (p *Page) IsLeaf() bool    { return p.HasFlag(FlagLeaf) }
func (p *Page) IsData() bool    { return p.HasFlag(FlagData) }
func (p *Page) IsDeleted() bool { return p.HasFlag(FlagDeleted) }
func (p *Page) IsMeta() bool    { return p.HasFlag(FlagMeta) }

func (p *Page) LeftLink() uint32 {
	return binary.BigEndian.Uint32(p.data[p.trailerOff(trailerOffLeft):])
}
func (p *Page) SetLeftLink(blk uint32) {
	binary.BigEndian.PutUint32(p.data[p.trailerOff(trailerOffLeft):], blk)
	p.dirty = true
}
func (p *Page) RightLink() uint32 {
	return binary.BigEndian.Uint32(p.data[p.trailerOff(trailerOffRight):])
}
func (p *Page) SetRightLink(blk uint32) {
	binary.BigEndian.PutUint32(p.data[p.trailerOff(trailerOffRight):], blk)
	p.dirty = true
}

// MaxOffset returns the number of cells on the page.
func (p *Page) MaxOffset() uint16 {
	return binary.BigEndian.Uint16(p.data[0:])
}
func (p *Page) setMaxOffset(n uint16) {
	binary.BigEndian.PutUint16(p.data[0:], n)
	binary.BigEndian.PutUint16(p.data[p.trailerOff(trailerOffMaxOff):], n)
	p.dirty = true
}

func (p *Page) freePtr() uint16 {
	return binary.BigEndian.Uint16(p.data[2:])
}
func (p *Page) setFreePtr(ptr uint16) {
	binary.BigEndian.PutUint16(p.data[2:], ptr)
	free := int(ptr) - headerSize - int(p.MaxOffset())*2
	if free < 0 {
		free = 0
	}
	binary.BigEndian.PutUint16(p.data[p.trailerOff(trailerOffFreeSpace):], uint16(free))
	p.dirty = true
}

// FreeSpace returns the number of bytes still available for new cells.
func (p *Page) FreeSpace() int {
	return int(p.freePtr()) - headerSize - int(p.MaxOffset())*2
}

func (p *Page) cellDirOffset(n uint16) int { return headerSize + int(n)*2 }

func (p *Page) cellOffset(n uint16) uint16 {
	return binary.BigEndian.Uint16(p.data[p.cellDirOffset(n):])
}
func (p *Page) setCellOffset(n uint16, off uint16) {
	binary.BigEndian.PutUint16(p.data[p.cellDirOffset(n):], off)
}

// RawCellAt returns the body of the nth cell, without its 2-byte length
// prefix, leaving the interpretation (entry tuple vs. posting-tree leaf
// segment) to the caller.
func (p *Page) RawCellAt(n uint16) ([]byte, error) {
	if n >= p.MaxOffset() {
		return nil, errors.WithStack(ErrCellNotFound)
	}
	off := int(p.cellOffset(n))
	ln := int(binary.BigEndian.Uint16(p.data[off:]))
	start := off + 2
	if start+ln > p.trailerOff(0) {
		return nil, errors.WithStack(common.ErrStructureCorrupt)
	}
	return p.data[start: start+ln], nil
}

// AppendCell appends a length-prefixed cell body at the end of the cell
// directory / start of the free-growing region, returning ErrPageFull if it
// does not fit. This is the primitive entry/posting insert builds
// ordered-insert semantics on top of.
func (p *Page) AppendCell(body []byte) error {
	need := 2 + len(body)
	if p.FreeSpace() < need+2 {
		return errors.WithStack(ErrPageFull)
	}
	newFree := p.freePtr() - uint16(need)
	binary.BigEndian.PutUint16(p.data[newFree:], uint16(len(body)))
	copy(p.data[int(newFree)+2:], body)
	n := p.MaxOffset()
	p.setCellOffset(n, newFree)
	p.setFreePtr(newFree)
	p.setMaxOffset(n + 1)
	return nil
}

// InsertCellAt shifts the directory to insert a new cell body at logical
// position idx (0 <= idx <= MaxOffset()), preserving the ascending-key
// invariant that callers in entry/posting maintain.
func (p *Page) InsertCellAt(idx uint16, body []byte) error {
	n := p.MaxOffset()
	if idx > n {
		return errors.WithStack(ErrCellNotFound)
	}
	need := 2 + len(body)
	if p.FreeSpace() < need+2 {
		return errors.WithStack(ErrPageFull)
	}
	newFree := p.freePtr() - uint16(need)
	binary.BigEndian.PutUint16(p.data[newFree:], uint16(len(body)))
	copy(p.data[int(newFree)+2:], body)

	for i := n; i > idx; i-- {
		p.setCellOffset(i, p.cellOffset(i-1))
	}
	p.setCellOffset(idx, newFree)
	p.setFreePtr(newFree)
	p.setMaxOffset(n + 1)
	return nil
}

// DeleteCellAt removes the cell at logical position idx, shifting the
// directory. The body's space is not reclaimed; callers that care about
// fragmentation (vacuum's leaf scrub) rebuild the page wholesale instead
// of deleting piecemeal.
func (p *Page) DeleteCellAt(idx uint16) error {
	n := p.MaxOffset()
	if idx >= n {
		return errors.WithStack(ErrCellNotFound)
	}
	for i := idx; i < n-1; i++ {
		p.setCellOffset(i, p.cellOffset(i+1))
	}
	p.setMaxOffset(n - 1)
	return nil
}

// Reset clears all cells, keeping sibling links and flags, for callers
// (split, vacuum rewrite) that rebuild a page's contents from scratch.
func (p *Page) Reset() {
	p.setMaxOffset(0)
	p.setFreePtr(uint16(len(p.data) - TrailerSize))
}

// Clone deep-copies the page.
func (p *Page) Clone() *Page {
	cp := make([]byte, len(p.data))
	copy(cp, p.data)
	return &Page{id: p.id, data: cp, dirty: p.dirty}
}
