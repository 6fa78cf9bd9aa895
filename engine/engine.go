// Package engine is RUM's generic on-disk B-tree engine: the recursive
// descend/insert/split/root-split machinery shared by the entry tree and
// the posting tree's internal pages. Leaf-level storage differs between
// the two (entry leaves hold tuple cells, posting leaves hold a varbyte
// RumKey stream plus a sparse index), so this package only owns
// routing-page (internal) logic plus a pluggable LeafOps for the leaf
// level -- both Tree callers provide their own LeafOps implementation.
//
// Routing keys are compared through a caller-supplied Comparator (entry
// keys are opclass-typed Datums, not raw bytes) and the split point comes
// from a pluggable SplitPolicy, since the entry tree balances by bytes
// while posting-tree internals balance by count.
package engine

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rpage"
)

// Comparator orders two internal-page routing keys. Callers decide what
// the key bytes mean (a Datum's canonical encoding for the entry tree, a
// fixed-width RumKey encoding for the posting tree).
type Comparator func(a, b []byte) int

// Cell is one internal-page routing entry: separator key plus the child
// block it routes to. (Leaf-level cells are owned by LeafOps
// implementations, not this package.)
type Cell struct {
	Key   []byte
	Child uint32
}

// SplitPolicy decides where to divide a full internal page's cells
// (already including the newly routed one, sorted ascending).
type SplitPolicy interface {
	SplitPoint(cells []Cell) int
}

// LeafOps lets a Tree delegate leaf-page behavior to its caller.
type LeafOps interface {
	// TryInsert attempts to fit item into page in sorted position.
	// Returns rpage.ErrPageFull if there isn't room.
	TryInsert(page *rpage.Page, item []byte) error
	// Split divides page (which holds item conceptually, already
	// accounted for) between page and newPage, returning the separator
	// key that routes to newPage.
	Split(page, newPage *rpage.Page, item []byte) (separator []byte, err error)
	// KeyOf extracts the routing key from a leaf-bound item, for
	// determining insert position and for producing the separator
	// after a leaf split when the caller needs it independently.
	KeyOf(item []byte) []byte
}

// Tree drives one B-tree (entry tree or posting tree) over a shared pager.
type Tree struct {
	Pager     *pager.Pager
	Cmp       Comparator
	Policy    SplitPolicy
	Leaf      LeafOps
	LeafFlags uint16 // flags a freshly split leaf page is created with
}

func encodeCell(c Cell) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(c.Key)+4)
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], uint64(len(c.Key)))
	buf = append(buf, scratch[:n]...)
	buf = append(buf, c.Key...)
	var childBuf [4]byte
	binary.BigEndian.PutUint32(childBuf[:], c.Child)
	buf = append(buf, childBuf[:]...)
	return buf
}

func decodeCell(buf []byte) (Cell, error) {
	klen, n := binary.Uvarint(buf)
	if n <= 0 || n+int(klen)+4 > len(buf) {
		return Cell{}, errors.WithStack(common.ErrStructureCorrupt)
	}
	key := buf[n: n+int(klen)]
	child := binary.BigEndian.Uint32(buf[n+int(klen):])
	return Cell{Key: key, Child: child}, nil
}

func (t *Tree) readInternalCells(page *rpage.Page) ([]Cell, error) {
	n := page.MaxOffset()
	cells := make([]Cell, 0, n)
	for i := uint16(0); i < n; i++ {
		raw, err := page.RawCellAt(i)
		if err != nil {
			return nil, err
		}
		c, err := decodeCell(raw)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// rewriteInternal replaces page's cell set in place (Reset preserves
// sibling links and flags) and points its RightLink catch-all child at
// rightLink.
func (t *Tree) rewriteInternal(page *rpage.Page, cells []Cell, rightLink uint32) error {
	page.Reset()
	for _, c := range cells {
		if err := page.AppendCell(encodeCell(c)); err != nil {
			return err
		}
	}
	page.SetRightLink(rightLink)
	return nil
}

// findChild returns which child to descend into for key: the last cell
// whose Key <= key owns the search, and RightLink is the catch-all child
// for keys less than every cell.
func (t *Tree) findChild(cells []Cell, page *rpage.Page, key []byte) uint32 {
	best := uint32(0)
	found := false
	for _, c := range cells {
		if t.Cmp(key, c.Key) >= 0 {
			best = c.Child
			found = true
		} else {
			break
		}
	}
	if !found {
		return page.RightLink()
	}
	return best
}

// InsertLeaf inserts item (whose routing key is Leaf.KeyOf(item)) starting
// the descent at pageID. It returns whether the operation propagated a
// split up to the caller (which must then call HandleRootSplit if pageID
// is the tree's actual root), the separator key, and the new sibling page.
func (t *Tree) InsertLeaf(pageID uint32, item []byte) (split bool, separator []byte, newPageID uint32, err error) {
	page, err := t.Pager.GetPage(pageID)
	if err != nil {
		return false, nil, 0, err
	}

	if page.IsLeaf() {
		if err := t.Leaf.TryInsert(page, item); err == nil {
			t.Pager.MarkDirty(page.ID())
			return false, nil, 0, nil
		} else if !errors.Is(err, rpage.ErrPageFull) {
			return false, nil, 0, err
		}

		newPage, err := t.Pager.NewPage(t.LeafFlags)
		if err != nil {
			return false, nil, 0, err
		}
		sep, err := t.Leaf.Split(page, newPage, item)
		if err != nil {
			return false, nil, 0, err
		}
		oldRight := page.RightLink()
		page.SetRightLink(newPage.ID())
		newPage.SetLeftLink(page.ID())
		newPage.SetRightLink(oldRight)
		if oldRight != rpage.InvalidBlock {
			sib, err := t.Pager.GetPage(oldRight)
			if err != nil {
				return false, nil, 0, err
			}
			sib.SetLeftLink(newPage.ID())
			t.Pager.MarkDirty(oldRight)
		}
		t.Pager.MarkDirty(page.ID())
		t.Pager.MarkDirty(newPage.ID())
		return true, sep, newPage.ID(), nil
	}

	cells, err := t.readInternalCells(page)
	if err != nil {
		return false, nil, 0, err
	}
	childID := t.findChild(cells, page, t.Leaf.KeyOf(item))

	childSplit, childSep, childNewID, err := t.InsertLeaf(childID, item)
	if err != nil {
		return false, nil, 0, err
	}
	if !childSplit {
		return false, nil, 0, nil
	}
	return t.insertRoutingCell(page, cells, Cell{Key: childSep, Child: childNewID})
}

func (t *Tree) insertRoutingCell(page *rpage.Page, cells []Cell, newCell Cell) (bool, []byte, uint32, error) {
	pos := sort.Search(len(cells), func(i int) bool { return t.Cmp(cells[i].Key, newCell.Key) >= 0 })

	if err := page.InsertCellAt(uint16(pos), encodeCell(newCell)); err == nil {
		t.Pager.MarkDirty(page.ID())
		return false, nil, 0, nil
	} else if !errors.Is(err, rpage.ErrPageFull) {
		return false, nil, 0, err
	}

	all := make([]Cell, 0, len(cells)+1)
	all = append(all, cells[:pos]...)
	all = append(all, newCell)
	all = append(all, cells[pos:]...)

	splitAt := t.Policy.SplitPoint(all)
	middle := all[splitAt]
	left, right := all[:splitAt], all[splitAt+1:]

	newPage, err := t.Pager.NewPage(page.Flags() &^ rpage.FlagLeaf)
	if err != nil {
		return false, nil, 0, err
	}
	// The left page keeps the original catch-all child (keys below every
	// remaining separator still route there); the new right page's
	// catch-all is the promoted cell's child, which owns exactly the keys
	// between the promoted separator and the new page's first cell.
	oldRight := page.RightLink()
	if err := t.rewriteInternal(page, left, oldRight); err != nil {
		return false, nil, 0, err
	}
	newPage.SetRightLink(middle.Child)
	for _, c := range right {
		if err := newPage.AppendCell(encodeCell(c)); err != nil {
			return false, nil, 0, err
		}
	}
	t.Pager.MarkDirty(page.ID())
	t.Pager.MarkDirty(newPage.ID())

	return true, middle.Key, newPage.ID(), nil
}

// HandleRootSplit creates a new internal root over the split result and
// returns the new root's block ID; updating the caller-owned root
// pointer is the caller's responsibility (the entry tree keeps its root
// fixed at pager.RootBlock, so callers there move contents instead of
// the pointer; the posting tree keeps a per-entry root reference it
// updates itself).
func (t *Tree) HandleRootSplit(oldRootID uint32, separator []byte, newPageID uint32) (uint32, error) {
	newRoot, err := t.Pager.NewPage(0)
	if err != nil {
		return 0, err
	}
	if err := newRoot.AppendCell(encodeCell(Cell{Key: separator, Child: newPageID})); err != nil {
		return 0, err
	}
	newRoot.SetRightLink(oldRootID)
	t.Pager.MarkDirty(newRoot.ID())
	return newRoot.ID(), nil
}

// HandleRootSplitFixed is HandleRootSplit for trees whose root page block
// never moves (the entry tree's root is pinned at pager.RootBlock).
// Instead of allocating a new root block, it relocates rootID's current
// contents to a fresh page and rewrites rootID itself in place as the new
// internal root.
func (t *Tree) HandleRootSplitFixed(rootID uint32, separator []byte, newPageID uint32) error {
	root, err := t.Pager.GetPage(rootID)
	if err != nil {
		return err
	}
	relocated, err := t.Pager.NewPage(root.Flags())
	if err != nil {
		return err
	}
	n := root.MaxOffset()
	for i := uint16(0); i < n; i++ {
		raw, err := root.RawCellAt(i)
		if err != nil {
			return err
		}
		if err := relocated.AppendCell(raw); err != nil {
			return err
		}
	}
	relocated.SetLeftLink(root.LeftLink())
	relocated.SetRightLink(root.RightLink())
	if relocated.IsLeaf() && relocated.RightLink() != rpage.InvalidBlock {
		sib, err := t.Pager.GetPage(relocated.RightLink())
		if err != nil {
			return err
		}
		sib.SetLeftLink(relocated.ID())
		t.Pager.MarkDirty(sib.ID())
	}

	root.Reset()
	root.ClearFlag(rpage.FlagLeaf)
	if err := root.AppendCell(encodeCell(Cell{Key: separator, Child: newPageID})); err != nil {
		return err
	}
	root.SetLeftLink(rpage.InvalidBlock)
	root.SetRightLink(relocated.ID())

	t.Pager.MarkDirty(root.ID())
	t.Pager.MarkDirty(relocated.ID())
	return nil
}

// FindLeaf descends from pageID to the leaf page that would hold key,
// without modifying anything -- used by read-only scans.
func (t *Tree) FindLeaf(pageID uint32, key []byte) (*rpage.Page, error) {
	for {
		page, err := t.Pager.GetPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			return page, nil
		}
		cells, err := t.readInternalCells(page)
		if err != nil {
			return nil, err
		}
		pageID = t.findChild(cells, page, key)
	}
}

// LeftmostLeaf descends to the leftmost (smallest-key) leaf under pageID,
// for a full, keyless forward scan. Per findChild's convention, the
// smallest-key child of an internal page is its RightLink, not its first
// cell -- cells route to successively larger separators, and RightLink is
// the catch-all for keys below every separator.
func (t *Tree) LeftmostLeaf(pageID uint32) (*rpage.Page, error) {
	for {
		page, err := t.Pager.GetPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			return page, nil
		}
		pageID = page.RightLink()
	}
}

// RightmostLeaf descends to the rightmost (largest-key) leaf under
// pageID, for a full backward scan.
func (t *Tree) RightmostLeaf(pageID uint32) (*rpage.Page, error) {
	for {
		page, err := t.Pager.GetPage(pageID)
		if err != nil {
			return nil, err
		}
		if page.IsLeaf() {
			return page, nil
		}
		cells, err := t.readInternalCells(page)
		if err != nil {
			return nil, err
		}
		if len(cells) == 0 {
			return nil, errors.WithStack(common.ErrStructureCorrupt)
		}
		pageID = cells[len(cells)-1].Child
	}
}

// Children exposes a read-only internal page's routed cells, for callers
// (posting-tree vacuum) that need to walk routing structure directly.
func (t *Tree) Children(page *rpage.Page) ([]Cell, error) {
	return t.readInternalCells(page)
}
