package entry

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/engine"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

// approxHeaderBytes/approxRumKeySize back MaxItemSize's rough bound of
// (pageSize - headers)/6 minus one worst-case encoded RumKey; neither
// needs to be exact, only conservative enough that a tuple which fits
// never gets rejected by the page itself.
const (
	approxHeaderBytes = 32
	approxRumKeySize  = 14
)

// MaxItemSize is the largest an inline-posting-list entry tuple may be
// before it must be converted to a posting-tree reference.
func MaxItemSize(pageSize int) int {
	return (pageSize-approxHeaderBytes)/6 - approxRumKeySize
}

// PostingInserter lets entry.Tree hand off to the posting tree (package
// posting) without importing it directly, keeping the two packages
// decoupled; build/ wires a concrete implementation through.
type PostingInserter interface {
	// Create bulk-loads a fresh posting tree from items and returns its
	// root block.
	Create(items []rumkey.RumKey) (root uint32, err error)
	// Insert streams items into an existing posting tree rooted at root,
	// returning the tree's (possibly changed, on root split) root block.
	Insert(root uint32, items []rumkey.RumKey) (newRoot uint32, err error)
}

// Tree is RUM's entry tree: outer B-tree over (attnum, category, key),
// rooted at a fixed block. AltOrder and CmpAddInfo select the order
// inline posting lists are stored in: ItemPointer order normally, or
// addInfo-first when the index sorts by an attached column, so an inline
// list reads back in the same order its posting-tree counterpart would.
type Tree struct {
	Pager       *pager.Pager
	Codec       KeyCodec
	AddInfoAttr common.AttrDesc
	AltOrder    bool
	CmpAddInfo  rumkey.CompareAddInfo
	RootID      uint32

	eng *engine.Tree
}

// NewTree wires an entry.Tree over an already-open pager. RootID is
// normally pager.RootBlock; build/ may point it elsewhere in tests.
func NewTree(p *pager.Pager, codec KeyCodec, addInfoAttr common.AttrDesc, altOrder bool, cmpAddInfo rumkey.CompareAddInfo, rootID uint32) *Tree {
	t := &Tree{Pager: p, Codec: codec, AddInfoAttr: addInfoAttr, AltOrder: altOrder, CmpAddInfo: cmpAddInfo, RootID: rootID}
	t.eng = &engine.Tree{
		Pager:     p,
		Cmp:       codec.Compare,
		Policy:    engine.EqualBytesSplit{},
		LeafFlags: rpage.FlagLeaf,
	}
	t.eng.Leaf = entryLeafOps{tree: t}
	return t
}

// Insert merges newOccs into the tuple for (attnum, category, key),
// creating it if absent. When the merged inline posting list would exceed
// MaxItemSize, the tuple is converted in place to a posting-tree
// reference and the merged items are handed to postingInsert.Create
// instead; when a reference tuple already exists, new items stream
// straight into that posting tree via postingInsert.Insert.
func (t *Tree) Insert(attnum uint16, category common.NullCategory, key common.Datum, newOccs []rumkey.RumKey, postingInsert PostingInserter) error {
	routingKey := t.Codec.EncodePrefix(attnum, category, key)
	leaf, err := t.eng.FindLeaf(t.RootID, routingKey)
	if err != nil {
		return err
	}

	idx, existing, found, err := t.findInLeaf(leaf, routingKey)
	if err != nil {
		return err
	}

	if found && existing.PostingRoot != rpage.InvalidBlock {
		newRoot, err := postingInsert.Insert(existing.PostingRoot, newOccs)
		if err != nil {
			return err
		}
		if newRoot == existing.PostingRoot {
			return nil
		}
		tuple := Tuple{Attnum: attnum, Category: category, Key: key, PostingRoot: newRoot}
		encoded, eerr := EncodeTuple(t.Codec, t.AddInfoAttr, tuple)
		if eerr != nil {
			return eerr
		}
		if err := leaf.DeleteCellAt(idx); err != nil {
			return err
		}
		t.Pager.MarkDirty(leaf.ID())
		return t.insertOrReplace(encoded)
	}

	var base []rumkey.RumKey
	if found {
		base = existing.Postings
	}
	merged := mergeOccurrences(base, newOccs)
	if t.AltOrder {
		sort.Slice(merged, func(i, j int) bool {
			return rumkey.Compare(merged[i], merged[j], true, t.CmpAddInfo, rumkey.Forward) < 0
		})
	}

	tuple := Tuple{Attnum: attnum, Category: category, Key: key, Postings: merged, PostingRoot: rpage.InvalidBlock}
	encoded, err := EncodeTuple(t.Codec, t.AddInfoAttr, tuple)
	if err != nil {
		return err
	}

	if len(encoded) > MaxItemSize(t.Pager.PageSize()) {
		root, cerr := postingInsert.Create(merged)
		if cerr != nil {
			return cerr
		}
		tuple = Tuple{Attnum: attnum, Category: category, Key: key, PostingRoot: root}
		encoded, err = EncodeTuple(t.Codec, t.AddInfoAttr, tuple)
		if err != nil {
			return err
		}
	}

	if found {
		if err := leaf.DeleteCellAt(idx); err != nil {
			return err
		}
		t.Pager.MarkDirty(leaf.ID())
	}
	return t.insertOrReplace(encoded)
}

func (t *Tree) insertOrReplace(item []byte) error {
	if max := MaxItemSize(t.Pager.PageSize()); len(item) > max {
		return errors.Wrapf(common.ErrItemTooLarge, "entry: tuple is %d bytes, limit %d", len(item), max)
	}
	split, sep, newID, err := t.eng.InsertLeaf(t.RootID, item)
	if err != nil {
		return err
	}
	if split {
		return t.eng.HandleRootSplitFixed(t.RootID, sep, newID)
	}
	return nil
}

// Lookup finds the tuple for (attnum, category, key), if any.
func (t *Tree) Lookup(attnum uint16, category common.NullCategory, key common.Datum) (Tuple, bool, error) {
	routingKey := t.Codec.EncodePrefix(attnum, category, key)
	leaf, err := t.eng.FindLeaf(t.RootID, routingKey)
	if err != nil {
		return Tuple{}, false, err
	}
	_, tuple, found, err := t.findInLeaf(leaf, routingKey)
	return tuple, found, err
}

// FindLeaf exposes the tree's internal FindLeaf to scan/ so a cursor can
// start a full or range scan without duplicating descent logic.
func (t *Tree) FindLeaf(routingKey []byte) (*rpage.Page, error) {
	return t.eng.FindLeaf(t.RootID, routingKey)
}

// LeftmostLeaf descends to the entry tree's first leaf (lowest attnum,
// category, key), the starting point for vacuum's left-to-right leaf
// scrub.
func (t *Tree) LeftmostLeaf() (*rpage.Page, error) {
	return t.eng.LeftmostLeaf(t.RootID)
}

func (t *Tree) findInLeaf(leaf *rpage.Page, routingKey []byte) (idx uint16, tuple Tuple, found bool, err error) {
	n := leaf.MaxOffset()
	lo, hi := uint16(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		raw, rerr := leaf.RawCellAt(mid)
		if rerr != nil {
			return 0, Tuple{}, false, rerr
		}
		if t.Codec.Compare(RoutingKey(t.Codec, raw), routingKey) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < n {
		raw, rerr := leaf.RawCellAt(lo)
		if rerr != nil {
			return 0, Tuple{}, false, rerr
		}
		if t.Codec.Compare(RoutingKey(t.Codec, raw), routingKey) == 0 {
			tup, derr := DecodeTuple(t.Codec, t.AddInfoAttr, raw)
			if derr != nil {
				return 0, Tuple{}, false, derr
			}
			return lo, tup, true, nil
		}
	}
	return lo, Tuple{}, false, nil
}

// mergeOccurrences merges two occurrence lists into one ItemPointer-
// ascending list, overwriting addInfo on iptr collisions with the
// incoming value (the attach-column addInfo overwrite rule). Neither
// input is assumed sorted: an alt-order tuple stores its inline list in
// addInfo order, not iptr order.
func mergeOccurrences(existing, incoming []rumkey.RumKey) []rumkey.RumKey {
	byIPtr := func(s []rumkey.RumKey) []rumkey.RumKey {
		cp := make([]rumkey.RumKey, len(s))
		copy(cp, s)
		sort.Slice(cp, func(i, j int) bool { return cp[i].IPtr.Compare(cp[j].IPtr) < 0 })
		return cp
	}
	existing = byIPtr(existing)
	sorted := byIPtr(incoming)

	merged := make([]rumkey.RumKey, 0, len(existing)+len(sorted))
	i, j := 0, 0
	for i < len(existing) && j < len(sorted) {
		c := existing[i].IPtr.Compare(sorted[j].IPtr)
		switch {
		case c < 0:
			merged = append(merged, existing[i])
			i++
		case c > 0:
			merged = append(merged, sorted[j])
			j++
		default:
			merged = append(merged, sorted[j])
			i++
			j++
		}
	}
	merged = append(merged, existing[i:]...)
	merged = append(merged, sorted[j:]...)
	return merged
}

// entryLeafOps implements engine.LeafOps for entry-tree leaves, where
// cells are whole encoded Tuples and the routing key is the tuple's
// prefix (attnum+category+key).
type entryLeafOps struct{ tree *Tree }

func (o entryLeafOps) KeyOf(item []byte) []byte { return RoutingKey(o.tree.Codec, item) }

func (o entryLeafOps) sortedPos(page *rpage.Page, key []byte) uint16 {
	n := page.MaxOffset()
	lo, hi := uint16(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		raw, _ := page.RawCellAt(mid)
		if o.tree.Codec.Compare(RoutingKey(o.tree.Codec, raw), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (o entryLeafOps) TryInsert(page *rpage.Page, item []byte) error {
	pos := o.sortedPos(page, o.KeyOf(item))
	err := page.InsertCellAt(pos, item)
	if !errors.Is(err, rpage.ErrPageFull) {
		return err
	}
	// DeleteCellAt leaves a replaced tuple's old body behind; compact the
	// live cells and try once more before reporting the page full.
	old := page.Clone()
	page.Reset()
	for i := uint16(0); i < old.MaxOffset(); i++ {
		raw, _ := old.RawCellAt(i)
		if err := page.AppendCell(raw); err != nil {
			return err
		}
	}
	return page.InsertCellAt(pos, item)
}

func (o entryLeafOps) Split(page, newPage *rpage.Page, item []byte) ([]byte, error) {
	n := page.MaxOffset()
	all := make([][]byte, 0, n+1)
	for i := uint16(0); i < n; i++ {
		raw, err := page.RawCellAt(i)
		if err != nil {
			return nil, err
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		all = append(all, cp)
	}
	pos := int(o.sortedPos(page, o.KeyOf(item)))
	itemCopy := make([]byte, len(item))
	copy(itemCopy, item)
	all = append(all[:pos], append([][]byte{itemCopy}, all[pos:]...)...)

	total := 0
	for _, it := range all {
		total += len(it) + 2
	}
	half := total / 2
	acc := 0
	mid := len(all) / 2
	for i, it := range all {
		acc += len(it) + 2
		if acc >= half {
			mid = i + 1
			break
		}
	}
	if mid <= 0 {
		mid = 1
	}
	if mid >= len(all) {
		mid = len(all) - 1
	}

	page.Reset()
	for _, it := range all[:mid] {
		if err := page.AppendCell(it); err != nil {
			return nil, err
		}
	}
	for _, it := range all[mid:] {
		if err := newPage.AppendCell(it); err != nil {
			return nil, err
		}
	}
	return RoutingKey(o.tree.Codec, all[mid]), nil
}
