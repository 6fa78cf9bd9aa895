package posting

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/engine"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
	"github.com/rumindex/rum/varbyte"
)

// Tree is one posting tree: the data-only B-tree rooted at a block
// recorded in the owning entry-tuple. A single Tree
// value is reused across every posting tree an index owns -- the root
// block id, not the Tree value, identifies which one a call addresses.
type Tree struct {
	Pager       *pager.Pager
	AddInfoAttr common.AttrDesc
	AltOrder    bool
	CmpAddInfo  rumkey.CompareAddInfo

	eng *engine.Tree
}

// NewTree wires a posting.Tree over an already-open pager. altOrder and
// cmpAddInfo select whether the tree's comparator sorts by addInfo
// first; cmpAddInfo may be nil when altOrder is false.
func NewTree(p *pager.Pager, addInfoAttr common.AttrDesc, altOrder bool, cmpAddInfo rumkey.CompareAddInfo) *Tree {
	t := &Tree{Pager: p, AddInfoAttr: addInfoAttr, AltOrder: altOrder, CmpAddInfo: cmpAddInfo}
	t.eng = &engine.Tree{
		Pager:     p,
		Cmp:       t.compareRoutingKeys,
		Policy:    engine.EqualCountSplit{},
		LeafFlags: rpage.FlagLeaf | rpage.FlagData,
	}
	t.eng.Leaf = leafOps{t: t}
	return t
}

func (t *Tree) compareKeys(a, b rumkey.RumKey) int {
	return rumkey.Compare(a, b, t.AltOrder, t.CmpAddInfo, rumkey.Forward)
}

func (t *Tree) compareRoutingKeys(a, b []byte) int {
	ka, _, err := varbyte.DecodeAlt(a, 0, t.AddInfoAttr)
	if err != nil {
		panic(errors.Wrap(err, "posting: malformed routing key"))
	}
	kb, _, err := varbyte.DecodeAlt(b, 0, t.AddInfoAttr)
	if err != nil {
		panic(errors.Wrap(err, "posting: malformed routing key"))
	}
	return t.compareKeys(ka, kb)
}

func encodeRoutingKey(k rumkey.RumKey, attr common.AttrDesc) []byte {
	buf := make([]byte, varbyte.SizeAlt(0, k, attr))
	varbyte.EncodeAlt(buf, 0, k, attr)
	return buf
}

// dedupSorted sorts items under the tree's active comparator and drops
// duplicate ItemPointers, keeping the last occurrence's addInfo -- the
// same "last write wins on iptr collision" rule entry.mergeOccurrences
// applies.
func (t *Tree) dedupSorted(items []rumkey.RumKey) []rumkey.RumKey {
	sorted := make([]rumkey.RumKey, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return t.compareKeys(sorted[i], sorted[j]) < 0 })

	out := sorted[:0:0]
	for _, k := range sorted {
		if len(out) > 0 && out[len(out)-1].Equal(k) {
			out[len(out)-1] = k
			continue
		}
		out = append(out, k)
	}
	return out
}

// Create bulk-loads a fresh posting tree from items, returning its root
// block. Items are inserted one at a time in comparator order into a
// single freshly allocated leaf; because input is pre-sorted, every split
// before the last one is a pure tail-append, so leafOps.Split takes the
// "pack left, overflow right" branch rather than rebalancing and the
// finished tree ends up packed along its rightmost path.
func (t *Tree) Create(items []rumkey.RumKey) (uint32, error) {
	sorted := t.dedupSorted(items)

	page, err := t.Pager.NewPage(rpage.FlagLeaf | rpage.FlagData)
	if err != nil {
		return 0, err
	}
	initLeaf(page)
	t.Pager.MarkDirty(page.ID())
	root := page.ID()

	for _, k := range sorted {
		newRoot, err := t.insertOne(root, k)
		if err != nil {
			return 0, err
		}
		root = newRoot
	}
	return root, nil
}

// Insert streams items into the posting tree rooted at root, returning
// the (possibly changed, on root split) root block.
func (t *Tree) Insert(root uint32, items []rumkey.RumKey) (uint32, error) {
	sorted := t.dedupSorted(items)
	for _, k := range sorted {
		newRoot, err := t.insertOne(root, k)
		if err != nil {
			return 0, err
		}
		root = newRoot
	}
	return root, nil
}

func (t *Tree) insertOne(root uint32, k rumkey.RumKey) (uint32, error) {
	item := encodeRoutingKey(k, t.AddInfoAttr)
	split, sep, newID, err := t.eng.InsertLeaf(root, item)
	if err != nil {
		return 0, err
	}
	if !split {
		return root, nil
	}
	return t.eng.HandleRootSplit(root, sep, newID)
}

// LeftmostLeafPage descends to the posting tree's first leaf page, for
// callers (vacuum) that need the page itself rather than its decoded
// keys.
func (t *Tree) LeftmostLeafPage(root uint32) (*rpage.Page, error) {
	return t.eng.LeftmostLeaf(root)
}

// Children exposes an internal posting-tree page's routed cells, for
// vacuum's parent lookup during leaf deletion.
func (t *Tree) Children(page *rpage.Page) ([]engine.Cell, error) {
	return t.eng.Children(page)
}

// FindParent locates leafID's parent within the posting tree rooted at
// root: the parent page id, the index of the routing cell pointing at
// leafID (meaningless when isRightLink), whether leafID is reached via
// the parent's RightLink catch-all slot rather than a routed cell, and
// whether leafID was found at all (false when leafID IS root, i.e. a
// single-page posting tree with no parent; the deletion protocol only
// ever applies to a non-root leaf).
//
// Posting-tree leaves carry no key range a caller can route by (that's
// exactly the information a leaf deletion is trying to remove), so this
// is a DFS over the routing structure rather than a single descent; tree
// depth is small (two or three levels even for six-figure occurrence
// counts) and vacuum is already an O(pages) operation, so the extra
// constant factor here doesn't change vacuum's asymptotics.
func (t *Tree) FindParent(root, leafID uint32) (parentID uint32, cellIdx int, isRightLink bool, found bool, err error) {
	return t.findParentRec(root, leafID)
}

func (t *Tree) findParentRec(pageID, leafID uint32) (uint32, int, bool, bool, error) {
	page, err := t.Pager.GetPage(pageID)
	if err != nil {
		return 0, 0, false, false, err
	}
	if page.IsLeaf() {
		return 0, 0, false, false, nil
	}
	cells, err := t.eng.Children(page)
	if err != nil {
		return 0, 0, false, false, err
	}
	for i, c := range cells {
		if c.Child == leafID {
			return pageID, i, false, true, nil
		}
	}
	if page.RightLink() == leafID {
		return pageID, -1, true, true, nil
	}
	for _, c := range cells {
		pid, idx, rl, f, err := t.findParentRec(c.Child, leafID)
		if err != nil {
			return 0, 0, false, false, err
		}
		if f {
			return pid, idx, rl, true, nil
		}
	}
	if rl := page.RightLink(); rl != rpage.InvalidBlock {
		pid, idx, isRL, f, err := t.findParentRec(rl, leafID)
		if err != nil {
			return 0, 0, false, false, err
		}
		if f {
			return pid, idx, isRL, true, nil
		}
	}
	return 0, 0, false, false, nil
}

// Count walks every leaf of the posting tree rooted at root and returns
// its total occurrence count, used by scan's fuzzy_search_limit guard
// to size the keep-probability for a posting-tree-backed
// scan entry.
func (t *Tree) Count(root uint32) (int, error) {
	c, err := t.NewFullScan(root, rumkey.Forward)
	if err != nil {
		return 0, err
	}
	n := 0
	for {
		_, ok, err := c.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

// Lookup reports whether key exists anywhere in the posting tree rooted
// at root.
func (t *Tree) Lookup(root uint32, key rumkey.RumKey) (bool, error) {
	routing := encodeRoutingKey(key, t.AddInfoAttr)
	leaf, err := t.eng.FindLeaf(root, routing)
	if err != nil {
		return false, err
	}
	keys, err := DecodeAll(leaf, t.AddInfoAttr)
	if err != nil {
		return false, err
	}
	pos := sort.Search(len(keys), func(i int) bool { return t.compareKeys(key, keys[i]) <= 0 })
	return pos < len(keys) && keys[pos].Equal(key), nil
}

// leafOps implements engine.LeafOps for posting-tree leaves.
type leafOps struct{ t *Tree }

func (o leafOps) KeyOf(item []byte) []byte { return item }

func (o leafOps) TryInsert(page *rpage.Page, item []byte) error {
	k, _, err := varbyte.DecodeAlt(item, 0, o.t.AddInfoAttr)
	if err != nil {
		return err
	}
	keys, err := DecodeAll(page, o.t.AddInfoAttr)
	if err != nil {
		return err
	}
	pos := sort.Search(len(keys), func(i int) bool { return o.t.compareKeys(k, keys[i]) <= 0 })
	if pos < len(keys) && keys[pos].Equal(k) {
		keys[pos] = k
	} else {
		keys = append(keys, rumkey.RumKey{})
		copy(keys[pos+1:], keys[pos:])
		keys[pos] = k
	}
	return EncodeAll(page, keys, keys[len(keys)-1], o.t.AddInfoAttr)
}

func (o leafOps) Split(page, newPage *rpage.Page, item []byte) ([]byte, error) {
	k, _, err := varbyte.DecodeAlt(item, 0, o.t.AddInfoAttr)
	if err != nil {
		return nil, err
	}
	existing, err := DecodeAll(page, o.t.AddInfoAttr)
	if err != nil {
		return nil, err
	}
	pos := sort.Search(len(existing), func(i int) bool { return o.t.compareKeys(k, existing[i]) <= 0 })
	appendingAtTail := pos == len(existing)

	all := make([]rumkey.RumKey, 0, len(existing)+1)
	all = append(all, existing[:pos]...)
	all = append(all, k)
	all = append(all, existing[pos:]...)

	var splitIdx int
	if appendingAtTail {
		// Rightmost-path bulk load: the page was already packed full
		// without k; only the overflow item moves right.
		splitIdx = len(all) - 1
	} else {
		splitIdx = equalBytesSplitPoint(all, o.t.AddInfoAttr)
	}

	left, right := all[:splitIdx], all[splitIdx:]
	if err := EncodeAll(page, left, left[len(left)-1], o.t.AddInfoAttr); err != nil {
		return nil, err
	}
	if err := EncodeAll(newPage, right, right[len(right)-1], o.t.AddInfoAttr); err != nil {
		return nil, err
	}
	return encodeRoutingKey(right[0], o.t.AddInfoAttr), nil
}

// equalBytesSplitPoint picks the split index balancing encoded byte size
// on either side.
func equalBytesSplitPoint(all []rumkey.RumKey, attr common.AttrDesc) int {
	sizes := make([]int, len(all))
	total := 0
	prevBlk := uint32(0)
	for i, k := range all {
		sizes[i] = varbyte.SizeNatural(total, prevBlk, k, attr)
		total += sizes[i]
		prevBlk = k.IPtr.Block
	}
	half := total / 2
	acc := 0
	for i, s := range sizes {
		acc += s
		if acc >= half {
			if i+1 >= len(all) {
				return len(all) - 1
			}
			return i + 1
		}
	}
	return len(all) / 2
}
