// Package vacuum implements RUM's garbage collection: leaf-data
// compaction and posting-tree page deletion. It runs in two phases -- a
// left-to-right scrub of the entry tree's inline posting lists, followed
// by a per-posting-tree compaction pass that also deletes emptied
// non-root leaves under cleanup locks covering the page, its siblings
// and its parent.
package vacuum

import (
	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/entry"
	"github.com/rumindex/rum/latch"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/posting"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

// Callback reports whether the occurrence at iptr is no longer visible to
// any reader and may be dropped -- the host engine's MVCC visibility
// check, passed in by the caller.
type Callback func(iptr common.ItemPointer) bool

// Stats summarizes one vacuum run for the caller to fold into its own
// vacuumcleanup report.
type Stats struct {
	PagesDeleted int64
}

// Run performs both vacuum phases against idx: scrub every entry-tree
// leaf's inline posting list, then compact every posting tree an
// inline-list conversion had created, deleting emptied non-root leaves.
// latches guards the cleanup-lock protocol during leaf deletion; a
// fresh latch.Manager is appropriate when no concurrent scan/insert
// traffic shares the index, matching cmd/rumtool's offline vacuum
// usage.
func Run(idx *build.Index, latches *latch.Manager, cb Callback) (Stats, error) {
	var stats Stats

	roots, err := scrubEntryTree(idx, cb)
	if err != nil {
		return stats, err
	}

	seen := make(map[uint32]bool, len(roots))
	for _, root := range roots {
		if seen[root] {
			continue
		}
		seen[root] = true
		deleted, err := compactPostingTree(idx.Postings(), latches, root, cb)
		if err != nil {
			return stats, err
		}
		stats.PagesDeleted += deleted
	}

	idx.Pager.UpdateMeta(func(m *pager.Metapage) {
		m.VacuumPagesDeleted += stats.PagesDeleted
	})
	if err := idx.Pager.Sync(); err != nil {
		return stats, err
	}
	return stats, nil
}

func filterOccurrences(items []rumkey.RumKey, cb Callback) []rumkey.RumKey {
	out := items[:0:0]
	for _, k := range items {
		if !cb(k.IPtr) {
			out = append(out, k)
		}
	}
	return out
}

// scrubEntryTree implements phase 1: walk every
// entry-tree leaf left to right, re-encoding inline posting lists with
// deleted occurrences filtered out (an emptied inline list stays as an
// empty-list tuple -- the entry tree never removes a key it once held)
// and collecting every posting-tree root a reference tuple points at for
// phase 2.
func scrubEntryTree(idx *build.Index, cb Callback) ([]uint32, error) {
	et := idx.EntryTree()
	var roots []uint32

	page, err := et.LeftmostLeaf()
	if err != nil {
		return nil, err
	}
	for {
		n := page.MaxOffset()
		cells := make([][]byte, 0, n)
		changed := false
		for i := uint16(0); i < n; i++ {
			raw, err := page.RawCellAt(i)
			if err != nil {
				return nil, err
			}
			tup, err := entry.DecodeTuple(et.Codec, et.AddInfoAttr, raw)
			if err != nil {
				return nil, err
			}
			if tup.PostingRoot != rpage.InvalidBlock {
				roots = append(roots, tup.PostingRoot)
				cells = append(cells, append([]byte(nil), raw...))
				continue
			}

			filtered := filterOccurrences(tup.Postings, cb)
			if len(filtered) == len(tup.Postings) {
				cells = append(cells, append([]byte(nil), raw...))
				continue
			}
			tup.Postings = filtered
			encoded, err := entry.EncodeTuple(et.Codec, et.AddInfoAttr, tup)
			if err != nil {
				return nil, err
			}
			cells = append(cells, encoded)
			changed = true
		}
		if changed {
			// Rebuild the page wholesale: deleting and reinserting cells
			// one at a time never reclaims the dead body bytes, so a
			// page that is nearly full could spuriously reject its own,
			// now smaller, replacement tuple.
			page.Reset()
			for _, c := range cells {
				if err := page.AppendCell(c); err != nil {
					return nil, err
				}
			}
			idx.Pager.MarkDirty(page.ID())
		}

		next := page.RightLink()
		if next == rpage.InvalidBlock {
			break
		}
		page, err = idx.Pager.GetPage(next)
		if err != nil {
			return nil, err
		}
	}
	return roots, nil
}

// compactPostingTree implements phase 2 for one posting tree: walk every
// leaf left to right, re-encoding with deleted occurrences filtered out,
// and attempt to delete any non-root leaf that becomes empty.
func compactPostingTree(pt *posting.Tree, latches *latch.Manager, root uint32, cb Callback) (int64, error) {
	var deleted int64

	leaf, err := pt.LeftmostLeafPage(root)
	if err != nil {
		return deleted, err
	}
	for {
		keys, err := posting.DecodeAll(leaf, pt.AddInfoAttr)
		if err != nil {
			return deleted, err
		}
		nextID := leaf.RightLink()

		filtered := filterOccurrences(keys, cb)
		if len(filtered) != len(keys) {
			deletedLeaf := false
			if len(filtered) == 0 && leaf.ID() != root {
				ok, derr := tryDeleteLeaf(pt, latches, root, leaf, cb)
				if derr != nil {
					return deleted, derr
				}
				if ok {
					deleted++
					deletedLeaf = true
				}
			}
			if !deletedLeaf {
				// Rewrite in place -- also when deletion was declined,
				// so a kept page never retains dead occurrences.
				var rightBound rumkey.RumKey
				if len(filtered) > 0 {
					rightBound = filtered[len(filtered)-1]
				} else {
					rightBound, err = posting.RightBound(leaf, pt.AddInfoAttr)
					if err != nil {
						return deleted, err
					}
				}
				if err := posting.EncodeAll(leaf, filtered, rightBound, pt.AddInfoAttr); err != nil {
					return deleted, err
				}
				pt.Pager.MarkDirty(leaf.ID())
			}
		}

		if nextID == rpage.InvalidBlock {
			break
		}
		leaf, err = pt.Pager.GetPage(nextID)
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// tryDeleteLeaf attempts the deletion protocol for an emptied non-root
// posting-tree leaf: acquire page+left+right+parent under cleanup locks
// (ascending block order, latch.Coupling), re-verify the page is still
// empty and not already DELETED (a concurrent cleanup may have won the
// race; decline and move on rather than surface it), splice it out of
// the sibling chain, remove its routing cell from the parent, and flag
// it DELETED -- its leftlink/rightlink are left untouched so a scan
// already past this page still completes.
func tryDeleteLeaf(pt *posting.Tree, latches *latch.Manager, root uint32, leaf *rpage.Page, cb Callback) (bool, error) {
	leftID := leaf.LeftLink()
	rightID := leaf.RightLink()

	parentID, cellIdx, isRightLink, found, err := pt.FindParent(root, leaf.ID())
	if err != nil {
		return false, err
	}
	if !found {
		// leaf IS root: a single-page posting tree is never deleted,
		// it just scans empty from now on.
		return false, nil
	}

	coupling := latch.NewCoupling(latches)
	coupling.AcquireCleanupSet(leaf.ID(), leftID, rightID, parentID, rpage.InvalidBlock)
	defer coupling.ReleaseAll()

	cur, err := pt.Pager.GetPage(leaf.ID())
	if err != nil {
		return false, err
	}
	if cur.IsDeleted() {
		return false, nil // ErrRetryableRace: already gone, back off
	}
	keys, err := posting.DecodeAll(cur, pt.AddInfoAttr)
	if err != nil {
		return false, err
	}
	if len(filterOccurrences(keys, cb)) != 0 {
		return false, nil // repopulated concurrently, leave it
	}

	parent, err := pt.Pager.GetPage(parentID)
	if err != nil {
		return false, err
	}
	if isRightLink {
		cells, err := pt.Children(parent)
		if err != nil {
			return false, err
		}
		if len(cells) == 0 {
			// Deleting this leaf would leave the parent with no
			// catch-all child at all; skip rather than orphan it.
			return false, nil
		}
		// The deleted leaf was the parent's leftmost (catch-all) child,
		// so the next-smallest child takes its place: promote the first
		// cell's child into the catch-all slot, and its separator stops
		// routing.
		first := cells[0]
		if err := parent.DeleteCellAt(0); err != nil {
			return false, err
		}
		parent.SetRightLink(first.Child)
	} else {
		if err := parent.DeleteCellAt(uint16(cellIdx)); err != nil {
			return false, err
		}
	}
	pt.Pager.MarkDirty(parent.ID())

	if leftID != rpage.InvalidBlock {
		left, err := pt.Pager.GetPage(leftID)
		if err != nil {
			return false, err
		}
		left.SetRightLink(rightID)
		pt.Pager.MarkDirty(left.ID())
	}
	if rightID != rpage.InvalidBlock {
		right, err := pt.Pager.GetPage(rightID)
		if err != nil {
			return false, err
		}
		right.SetLeftLink(leftID)
		pt.Pager.MarkDirty(right.ID())
	}

	cur.SetFlag(rpage.FlagDeleted)
	pt.Pager.MarkDirty(cur.ID())
	return true, nil
}
