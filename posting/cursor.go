package posting

import (
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

// Cursor walks a posting tree's leaves in scan direction, decoding each
// page into an in-memory list and advancing through it before stepping to
// the sibling leaf on exhaustion.
type Cursor struct {
	tree *Tree
	dir  rumkey.Direction

	page   []rumkey.RumKey
	idx    int
	pageID uint32
	done   bool
}

// NewFullScan opens a cursor over every occurrence in the posting tree
// rooted at root, descending to the leftmost leaf (forward) or rightmost
// (backward) with no starting key.
func (t *Tree) NewFullScan(root uint32, dir rumkey.Direction) (*Cursor, error) {
	var leaf *rpage.Page
	var err error
	if dir == rumkey.Forward {
		leaf, err = t.eng.LeftmostLeaf(root)
	} else {
		leaf, err = t.eng.RightmostLeaf(root)
	}
	if err != nil {
		return nil, err
	}
	return t.cursorFromLeaf(leaf, dir)
}

// NewRangeScan opens a cursor positioned at the first occurrence >= from
// (forward) or <= from (backward) in the posting tree rooted at root.
// On a natural-order tree, seeking within the starting page uses the
// sparse index (posting.SeekIndex) to skip the linear prefix that is
// plainly before the target; on an alt-order tree the walk starts at
// index 0.
func (t *Tree) NewRangeScan(root uint32, from rumkey.RumKey, dir rumkey.Direction) (*Cursor, error) {
	routing := encodeRoutingKey(from, t.AddInfoAttr)
	leaf, err := t.eng.FindLeaf(root, routing)
	if err != nil {
		return nil, err
	}
	c, err := t.cursorFromLeaf(leaf, dir)
	if err != nil {
		return nil, err
	}

	start := 0
	if !t.AltOrder {
		start = SeekIndex(leaf, from.IPtr)
	}
	if dir == rumkey.Forward {
		for i := start; i < len(c.page); i++ {
			if t.compareKeys(c.page[i], from) >= 0 {
				c.idx = i
				return c, nil
			}
		}
		c.idx = len(c.page)
		return c, nil
	}
	// Backward: position on the LAST key <= from, so the walk covers
	// every key down from the bound.
	for i := len(c.page) - 1; i >= 0; i-- {
		if t.compareKeys(c.page[i], from) <= 0 {
			c.idx = i
			return c, nil
		}
	}
	c.idx = -1
	return c, nil
}

func (t *Tree) cursorFromLeaf(leaf *rpage.Page, dir rumkey.Direction) (*Cursor, error) {
	keys, err := DecodeAll(leaf, t.AddInfoAttr)
	if err != nil {
		return nil, err
	}
	idx := 0
	if dir == rumkey.Backward {
		idx = len(keys) - 1
	}
	return &Cursor{tree: t, dir: dir, page: keys, idx: idx, pageID: leaf.ID(), done: len(keys) == 0}, nil
}

// Next returns the next occurrence in scan direction, or ok=false once
// the tree is exhausted.
func (c *Cursor) Next() (rumkey.RumKey, bool, error) {
	for {
		if c.done {
			return rumkey.RumKey{}, false, nil
		}
		if c.dir == rumkey.Forward {
			if c.idx < len(c.page) {
				k := c.page[c.idx]
				c.idx++
				return k, true, nil
			}
		} else {
			if c.idx >= 0 {
				k := c.page[c.idx]
				c.idx--
				return k, true, nil
			}
		}
		if err := c.step(); err != nil {
			return rumkey.RumKey{}, false, err
		}
	}
}

func (c *Cursor) step() error {
	leaf, err := c.tree.Pager.GetPage(c.pageID)
	if err != nil {
		return err
	}
	var nextID uint32
	if c.dir == rumkey.Forward {
		nextID = leaf.RightLink()
	} else {
		nextID = leaf.LeftLink()
	}
	if nextID == rpage.InvalidBlock {
		c.done = true
		return nil
	}
	next, err := c.tree.Pager.GetPage(nextID)
	if err != nil {
		return err
	}
	keys, err := DecodeAll(next, c.tree.AddInfoAttr)
	if err != nil {
		return err
	}
	c.page = keys
	c.pageID = nextID
	if c.dir == rumkey.Forward {
		c.idx = 0
	} else {
		c.idx = len(keys) - 1
	}
	if len(keys) == 0 {
		return c.step()
	}
	return nil
}

// AdvancePast skips forward-direction occurrences until curItem would be
// >= target (or backward: <= target), the primitive the scan executor's
// keyGetItem loop uses to synchronize multiple entry cursors.
func (c *Cursor) AdvancePast(target common.ItemPointer) (rumkey.RumKey, bool, error) {
	for {
		k, ok, err := c.Peek()
		if err != nil || !ok {
			return rumkey.RumKey{}, ok, err
		}
		if c.dir == rumkey.Forward {
			if k.IPtr.Compare(target) >= 0 {
				return k, true, nil
			}
		} else {
			if k.IPtr.Compare(target) <= 0 {
				return k, true, nil
			}
		}
		if _, _, err := c.Next(); err != nil {
			return rumkey.RumKey{}, false, err
		}
	}
}

// Peek returns the next occurrence without consuming it.
func (c *Cursor) Peek() (rumkey.RumKey, bool, error) {
	for {
		if c.done {
			return rumkey.RumKey{}, false, nil
		}
		if c.dir == rumkey.Forward && c.idx < len(c.page) {
			return c.page[c.idx], true, nil
		}
		if c.dir == rumkey.Backward && c.idx >= 0 {
			return c.page[c.idx], true, nil
		}
		if err := c.step(); err != nil {
			return rumkey.RumKey{}, false, err
		}
	}
}

