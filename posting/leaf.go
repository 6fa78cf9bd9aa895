// Package posting implements RUM's posting tree: the
// data-only B-tree that holds every occurrence for one entry-tree key once
// its inline list grew past entry.MaxItemSize.
//
// Internal (routing) pages reuse engine.Tree verbatim -- the same
// recursive descend/split machinery the entry tree uses, parameterised
// with engine.EqualCountSplit since routing cells are all the same size.
// Leaf pages are owned entirely by this package: a self-describing blob
// (right-bound key, varbyte RumKey stream, sparse anchor index) written
// directly into the page body, bypassing rpage's generic cell directory
// -- the leaf layout is one contiguous stream plus a trailing anchor
// array, not a set of independently addressable cells, so the cell
// directory (designed for entry.Tuple's one-cell-per-key shape) doesn't
// fit here.
package posting

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
	"github.com/rumindex/rum/varbyte"
)

// SparseSlots is the fixed anchor-array size at the tail of every leaf
// page.
const SparseSlots = 32

// anchorSize: iptr (block u32 + offset u16) + byte-offset-into-stream+1
// (u32, 0 = unused slot) + key index (u16).
const anchorSize = 4 + 2 + 4 + 2
const sparseRegionSize = SparseSlots * anchorSize

// leafHeaderSize: nEntries(2) + rightBoundLen(2) + streamLen(2).
const leafHeaderSize = 6

// initLeaf zeroes a freshly allocated leaf page's body to the empty-leaf
// state (no entries, no right bound yet).
func initLeaf(page *rpage.Page) {
	region := leafRegion(page)
	for i := range region {
		region[i] = 0
	}
	page.SetDirty(true)
}

// leafRegion returns the portion of a page's raw bytes this package owns
// -- everything before rpage's trailer. It deliberately never touches
// rpage's own cell-directory header/MaxOffset bookkeeping.
func leafRegion(page *rpage.Page) []byte {
	d := page.Data()
	return d[:len(d)-rpage.TrailerSize]
}

type leafHeader struct {
	nEntries      uint16
	rightBoundLen uint16
	streamLen     uint16
}

func readLeafHeader(region []byte) leafHeader {
	return leafHeader{
		nEntries:      binary.BigEndian.Uint16(region[0:]),
		rightBoundLen: binary.BigEndian.Uint16(region[2:]),
		streamLen:     binary.BigEndian.Uint16(region[4:]),
	}
}

func writeLeafHeader(region []byte, h leafHeader) {
	binary.BigEndian.PutUint16(region[0:], h.nEntries)
	binary.BigEndian.PutUint16(region[2:], h.rightBoundLen)
	binary.BigEndian.PutUint16(region[4:], h.streamLen)
}

func rightBoundSlice(region []byte, h leafHeader) []byte {
	return region[leafHeaderSize: leafHeaderSize+int(h.rightBoundLen)]
}

func streamSlice(region []byte, h leafHeader) []byte {
	start := leafHeaderSize + int(h.rightBoundLen)
	return region[start: start+int(h.streamLen)]
}

func sparseSlice(region []byte) []byte {
	return region[len(region)-sparseRegionSize:]
}

// leafFreeSpace returns how many bytes remain for the right-bound key
// plus the varbyte stream, the sparse index region being reserved.
func leafFreeSpace(region []byte, h leafHeader) int {
	used := leafHeaderSize + int(h.rightBoundLen) + int(h.streamLen)
	return len(region) - sparseRegionSize - used
}

// NEntries reports how many RumKeys a leaf page currently holds.
func NEntries(page *rpage.Page) int {
	return int(readLeafHeader(leafRegion(page)).nEntries)
}

// RightBound decodes a leaf page's right-bound key; the sentinel the
// rightmost page reports when it has no real bound yet is a zero
// ItemPointer with addInfoIsNull=true, since an empty right-bound slot
// only ever occurs on a brand new, still-empty leaf.
func RightBound(page *rpage.Page, attr common.AttrDesc) (rumkey.RumKey, error) {
	region := leafRegion(page)
	h := readLeafHeader(region)
	if h.rightBoundLen == 0 {
		return rumkey.RumKey{AddInfoIsNull: true}, nil
	}
	k, _, err := varbyte.DecodeAlt(rightBoundSlice(region, h), 0, attr)
	return k, err
}

// DecodeAll returns every RumKey on a leaf page in storage order (the
// tree's comparator order).
func DecodeAll(page *rpage.Page, attr common.AttrDesc) ([]rumkey.RumKey, error) {
	region := leafRegion(page)
	h := readLeafHeader(region)
	stream := streamSlice(region, h)
	keys := make([]rumkey.RumKey, 0, h.nEntries)
	prevBlk := uint32(0)
	pos := leafHeaderSize + int(h.rightBoundLen)
	off := 0
	for i := 0; i < int(h.nEntries); i++ {
		k, n, err := varbyte.DecodeNatural(stream[off:], pos+off, prevBlk, attr)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
		prevBlk = k.IPtr.Block
		off += n
	}
	if off != len(stream) { // the stream must decode to exactly nEntries keys
		return nil, errors.WithStack(common.ErrStructureCorrupt)
	}
	return keys, nil
}

// EncodeAll rewrites a leaf page's body wholesale: right-bound key,
// varbyte stream, and rebuilt sparse index. Returns rpage.ErrPageFull if
// keys don't fit, leaving the page untouched.
func EncodeAll(page *rpage.Page, keys []rumkey.RumKey, rightBound rumkey.RumKey, attr common.AttrDesc) error {
	region := leafRegion(page)

	rbSize := varbyte.SizeAlt(0, rightBound, attr)
	rbBuf := make([]byte, rbSize)
	varbyte.EncodeAlt(rbBuf, 0, rightBound, attr)

	streamPos := leafHeaderSize + rbSize
	offsets := make([]int, len(keys))
	streamSize := 0
	prevBlk := uint32(0)
	for i, k := range keys {
		offsets[i] = streamSize
		streamSize += varbyte.SizeNatural(streamPos+streamSize, prevBlk, k, attr)
		prevBlk = k.IPtr.Block
	}

	total := leafHeaderSize + rbSize + streamSize
	if total+sparseRegionSize > len(region) {
		return errors.WithStack(rpage.ErrPageFull)
	}

	h := leafHeader{nEntries: uint16(len(keys)), rightBoundLen: uint16(rbSize), streamLen: uint16(streamSize)}
	writeLeafHeader(region, h)
	copy(region[leafHeaderSize:], rbBuf)

	stream := region[streamPos: streamPos+streamSize]
	prevBlk = 0
	off := 0
	for _, k := range keys {
		n := varbyte.EncodeNatural(stream[off:], streamPos+off, prevBlk, k, attr)
		off += n
		prevBlk = k.IPtr.Block
	}

	buildSparseIndex(sparseSlice(region), keys, offsets)
	page.SetDirty(true)
	return nil
}

// buildSparseIndex picks up to SparseSlots evenly spaced anchors across
// keys and writes them into out (already sized to sparseRegionSize),
// zeroing unused slots. byteOffset is stored +1 so 0 unambiguously means
// "unused".
func buildSparseIndex(out []byte, keys []rumkey.RumKey, offsets []int) {
	for i := range out {
		out[i] = 0
	}
	n := len(keys)
	if n == 0 {
		return
	}
	slots := SparseSlots
	if n < slots {
		slots = n
	}
	step := n / slots
	if step == 0 {
		step = 1
	}
	slot := 0
	for i := 0; i < n && slot < SparseSlots; i += step {
		anchor := out[slot*anchorSize: (slot+1)*anchorSize]
		binary.BigEndian.PutUint32(anchor[0:], keys[i].IPtr.Block)
		binary.BigEndian.PutUint16(anchor[4:], keys[i].IPtr.Offset)
		binary.BigEndian.PutUint32(anchor[6:], uint32(offsets[i])+1)
		binary.BigEndian.PutUint16(anchor[10:], uint16(i))
		slot++
	}
}

// anchor is one decoded sparse-index slot.
type anchor struct {
	iptr       common.ItemPointer
	byteOffset int
	index      int
}

func readAnchors(region []byte) []anchor {
	raw := sparseSlice(region)
	out := make([]anchor, 0, SparseSlots)
	for i := 0; i < SparseSlots; i++ {
		a := raw[i*anchorSize: (i+1)*anchorSize]
		off := binary.BigEndian.Uint32(a[6:])
		if off == 0 {
			continue
		}
		out = append(out, anchor{
			iptr:       common.ItemPointer{Block: binary.BigEndian.Uint32(a[0:]), Offset: binary.BigEndian.Uint16(a[4:])},
			byteOffset: int(off) - 1,
			index:      int(binary.BigEndian.Uint16(a[10:])),
		})
	}
	return out
}

// SeekIndex scans the sparse index for the rightmost anchor whose
// ItemPointer is <= target, returning the key index a linear scan should
// resume from. Anchors only record ItemPointer, not addInfo, so
// alt-order range scans fall back to index 0 (a full linear scan of the
// page) rather than a seek; natural-order scans, the common case, get
// the full benefit. Returns 0 when no anchor is <= target.
func SeekIndex(page *rpage.Page, target common.ItemPointer) int {
	anchors := readAnchors(leafRegion(page))
	best := 0
	for _, a := range anchors {
		if a.iptr.Compare(target) <= 0 && a.index > best {
			best = a.index
		}
	}
	return best
}
