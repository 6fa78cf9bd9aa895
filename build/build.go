// Package build implements RUM's insert path: turning a heap row's
// column values into entry-tree occurrences, either streamed straight
// through for a single retail insert or coalesced through the rbtree
// accumulator for a bulk index build.
package build

import (
	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/entry"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/posting"
	"github.com/rumindex/rum/rbtree"
	"github.com/rumindex/rum/rumkey"
)

// Column describes one indexed column's opclass and on-disk key shape.
type Column struct {
	Attnum  uint16
	VTable  opclass.VTable
	KeyAttr common.AttrDesc
}

// ColumnValue is one row's value for one indexed column.
type ColumnValue struct {
	Value  common.Datum
	IsNull bool
}

// AttachValue is the attach column's value for one row, when the index is
// configured with order_by_attach.
// Present is false for an index with no attach column, in which case each
// occurrence keeps its own opclass-supplied addInfo instead.
type AttachValue struct {
	Value   common.Datum
	IsNull  bool
	Present bool
}

// Index wires together the entry tree, the shared posting tree and the
// build-time accumulator for one RUM index.
type Index struct {
	Pager   *pager.Pager
	Columns map[uint16]Column

	entryTree *entry.Tree
	postings  *posting.Tree
	acc       *rbtree.Tree

	cmpAddInfo   rumkey.CompareAddInfo
	maintWorkMem int64
}

// NewIndex constructs an Index over an already-open pager. addInfoAttr and
// cmpAddInfo describe the attach column's type when altOrder is set;
// cmpAddInfo may be nil otherwise. maintWorkMem bounds the accumulator
// before AddToBuild auto-flushes.
func NewIndex(p *pager.Pager, cols []Column, addInfoAttr common.AttrDesc, altOrder bool, cmpAddInfo rumkey.CompareAddInfo, maintWorkMem int64) *Index {
	byAttnum := make(map[uint16]Column, len(cols))
	for _, c := range cols {
		byAttnum[c.Attnum] = c
	}

	codec := entry.KeyCodec{
		AttrFor: func(attnum uint16) common.AttrDesc { return byAttnum[attnum].KeyAttr },
		CompareDatum: func(attnum uint16, a, b common.Datum) int {
			return byAttnum[attnum].VTable.Compare(a, b)
		},
	}

	idx := &Index{
		Pager:        p,
		Columns:      byAttnum,
		cmpAddInfo:   cmpAddInfo,
		maintWorkMem: maintWorkMem,
	}
	idx.entryTree = entry.NewTree(p, codec, addInfoAttr, altOrder, cmpAddInfo, pager.RootBlock)
	idx.postings = posting.NewTree(p, addInfoAttr, altOrder, cmpAddInfo)
	idx.acc = rbtree.NewTree(func(attnum uint16, a, b common.Datum) int {
		return byAttnum[attnum].VTable.Compare(a, b)
	}, altOrder)
	return idx
}

// extractOccurrences runs one column's ExtractValue and folds in the
// attach-column addInfo overwrite rule: when the index carries an attach
// column, every occurrence's addInfo is the attached value regardless of
// what the column's own opclass produced, since
// addInfo is index-wide, not per-column.
func extractOccurrences(col Column, tid common.ItemPointer, val ColumnValue, attach AttachValue) []entry.KeyOccurrence {
	extracted := col.VTable.ExtractValue(val.Value, val.IsNull)
	n := len(extracted.Categories)
	out := make([]entry.KeyOccurrence, 0, n)
	for i := 0; i < n; i++ {
		var key common.Datum
		if i < len(extracted.Keys) {
			key = extracted.Keys[i]
		}
		occ := rumkey.RumKey{IPtr: tid, AddInfoIsNull: true}
		switch {
		case attach.Present:
			occ.AddInfoIsNull = attach.IsNull
			if !attach.IsNull {
				occ.AddInfo = attach.Value
			}
		case i < len(extracted.AddInfoIsNull) && !extracted.AddInfoIsNull[i]:
			occ.AddInfoIsNull = false
			occ.AddInfo = extracted.AddInfo[i]
		}
		out = append(out, entry.KeyOccurrence{
			Category: extracted.Categories[i],
			Key:      key,
			Occ:      occ,
		})
	}
	return out
}

// Insert is the retail (single-row) insert path: it extracts and merges
// row's occurrences directly into the entry tree, bypassing the build
// accumulator.
func (idx *Index) Insert(tid common.ItemPointer, row map[uint16]ColumnValue, attach AttachValue) error {
	for attnum, val := range row {
		col, ok := idx.Columns[attnum]
		if !ok {
			return errors.Errorf("build: insert references unknown attnum %d", attnum)
		}
		for _, ko := range extractOccurrences(col, tid, val, attach) {
			if err := idx.entryTree.Insert(attnum, ko.Category, ko.Key, []rumkey.RumKey{ko.Occ}, idx.postings); err != nil {
				return err
			}
		}
	}
	idx.Pager.UpdateMeta(func(m *pager.Metapage) { m.NEntries++ })
	return nil
}

// AddToBuild accumulates row's occurrences into the build-time rbtree
// rather than inserting immediately, auto-flushing once the accumulator's
// estimated footprint crosses maintWorkMem.
func (idx *Index) AddToBuild(tid common.ItemPointer, row map[uint16]ColumnValue, attach AttachValue) error {
	for attnum, val := range row {
		col, ok := idx.Columns[attnum]
		if !ok {
			return errors.Errorf("build: insert references unknown attnum %d", attnum)
		}
		for _, ko := range extractOccurrences(col, tid, val, attach) {
			idx.acc.Insert(rbtree.EntryKey{Attnum: attnum, Category: ko.Category, Key: ko.Key}, ko.Occ)
		}
	}
	idx.Pager.UpdateMeta(func(m *pager.Metapage) { m.BuildHeapTuples++ })

	if idx.maintWorkMem > 0 && idx.acc.MemEstimate() >= idx.maintWorkMem {
		return idx.FlushBuild()
	}
	return nil
}

// FlushBuild drains every accumulated group in key order and inserts each
// into the entry tree, exactly as a retail insert would but with every
// occurrence for a key delivered in one call.
func (idx *Index) FlushBuild() error {
	groups := idx.acc.Drain(idx.cmpAddInfo)
	for _, g := range groups {
		if err := idx.entryTree.Insert(g.Key.Attnum, g.Key.Category, g.Key.Key, g.Occs, idx.postings); err != nil {
			return err
		}
		idx.Pager.UpdateMeta(func(m *pager.Metapage) { m.BuildIndexTuples += int64(len(g.Occs)) })
	}
	return nil
}

// FinishBuild flushes any remaining accumulated rows and syncs the index to
// disk, completing a bulk build.
func (idx *Index) FinishBuild() error {
	if err := idx.FlushBuild(); err != nil {
		return err
	}
	return idx.Pager.Sync()
}

// EntryTree exposes the underlying entry tree for scan/ to build cursors over.
func (idx *Index) EntryTree() *entry.Tree { return idx.entryTree }

// Postings exposes the shared posting tree for scan/ to open cursors on a
// tuple's PostingRoot.
func (idx *Index) Postings() *posting.Tree { return idx.postings }
