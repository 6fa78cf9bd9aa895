package scan

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/entry"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/rpage"
	"github.com/rumindex/rum/rumkey"
)

// Result is one matched candidate the executor produced: the heap tid,
// whether the caller must recheck it against the original qual, and the
// per-entry addInfo the Consistent call saw, reusable by the ORDER BY
// pipeline's Ordering call.
type Result struct {
	TID           common.ItemPointer
	Recheck       bool
	AddInfo       []common.Datum
	AddInfoIsNull []bool
}

// Executor merges a ScanKey's entries' occurrence streams and runs the
// opclass's Consistent function per candidate tid, exactly as RUM's
// regular (non-fast) scan loop does. It supports one
// indexed column per invocation; a multi-column AND is the caller's job,
// intersecting the per-column Result sets it gets back from separate
// Executors.
type Executor struct {
	col     build.Column
	sk      ScanKey
	dir     rumkey.Direction
	cursors []occCursor
}

// NewExecutor resolves sk's entries to occurrence cursors and prepares a
// merge scan over idx in direction dir.
func NewExecutor(idx *build.Index, col build.Column, sk ScanKey, dir rumkey.Direction) (*Executor, error) {
	return NewExecutorFuzzy(idx, col, sk, dir, FuzzyOpts{})
}

// NewExecutorFuzzy is NewExecutor with fuzzy_search_limit sampling applied
// per scan entry; a zero FuzzyOpts behaves exactly like
// NewExecutor.
func NewExecutorFuzzy(idx *build.Index, col build.Column, sk ScanKey, dir rumkey.Direction, fuzzy FuzzyOpts) (*Executor, error) {
	cursors := make([]occCursor, len(sk.Entries))
	for i, se := range sk.Entries {
		c, err := resolveEntryCursor(idx, col, sk, se, dir, fuzzy)
		if err != nil {
			return nil, err
		}
		cursors[i] = c
	}
	// An alt-ordered index stores occurrences addInfo-first, so with more
	// than one entry the tid-synchronized merge below would never line
	// the streams up. Re-sort each stream into ItemPointer order first;
	// a single-cursor scan keeps the storage order so ORDER BY can
	// stream it directly.
	if idx.Postings().AltOrder && len(cursors) > 1 {
		for i, c := range cursors {
			sorted, err := materializeIPtrOrder(c, dir)
			if err != nil {
				return nil, err
			}
			cursors[i] = sorted
		}
	}
	return &Executor{col: col, sk: sk, dir: dir, cursors: cursors}, nil
}

// materializeIPtrOrder drains c and returns a cursor over the same
// occurrences re-sorted ascending by ItemPointer (the order a
// sliceCursor serves in either direction).
func materializeIPtrOrder(c occCursor, dir rumkey.Direction) (occCursor, error) {
	var items []rumkey.RumKey
	for {
		k, ok, err := c.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		items = append(items, k)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].IPtr.Compare(items[j].IPtr) < 0 })
	return newSliceCursor(items, dir), nil
}

func resolveEntryCursor(idx *build.Index, col build.Column, sk ScanKey, se ScanEntry, dir rumkey.Direction, fuzzy FuzzyOpts) (occCursor, error) {
	if se.Category == common.CategoryEmptyQuery || sk.Mode == opclass.SearchAll || sk.Mode == opclass.SearchEverything {
		tuples, err := scanAllTuplesForAttnum(idx.EntryTree(), sk.Attnum)
		if err != nil {
			return nil, err
		}
		return tupleCursors(idx, tuples, dir, col.VTable.JoinAddInfo, fuzzy)
	}

	if !se.IsPartial {
		tup, found, err := idx.EntryTree().Lookup(sk.Attnum, se.Category, se.Key)
		if err != nil {
			return nil, err
		}
		if !found {
			return emptyCursor{}, nil
		}
		return tupleCursorFuzzy(idx, tup, dir, fuzzy)
	}

	if se.Category != common.CategoryNorm || col.VTable.ComparePartial == nil {
		return nil, errors.New("scan: partial match scan entry requires ComparePartial and NORM_KEY category")
	}
	// se.Key is where the range walk starts (the leftmost candidate the
	// opclass produced); the bound a candidate key is judged against is
	// the original query value, not the start key.
	tuples, err := scanPartialMatchTuples(idx.EntryTree(), sk.Attnum, se.Key, func(key common.Datum) int {
		return col.VTable.ComparePartial(sk.Query, key, sk.Strategy)
	})
	if err != nil {
		return nil, err
	}
	return tupleCursors(idx, tuples, dir, col.VTable.JoinAddInfo, fuzzy)
}

func tupleCursor(idx *build.Index, tup entry.Tuple, dir rumkey.Direction) (occCursor, error) {
	if tup.PostingRoot != rpage.InvalidBlock {
		return idx.Postings().NewFullScan(tup.PostingRoot, dir)
	}
	return newSliceCursor(tup.Postings, dir), nil
}

// tupleCursorFuzzy is tupleCursor with fuzzy_search_limit applied: the
// entry's predicted occurrence count is its exact inline length, or (for a
// posting-tree reference) a full leaf walk via posting.Tree.Count.
func tupleCursorFuzzy(idx *build.Index, tup entry.Tuple, dir rumkey.Direction, fuzzy FuzzyOpts) (occCursor, error) {
	c, err := tupleCursor(idx, tup, dir)
	if err != nil || !fuzzy.active() {
		return c, err
	}
	predicted := len(tup.Postings)
	if tup.PostingRoot != rpage.InvalidBlock {
		predicted, err = idx.Postings().Count(tup.PostingRoot)
		if err != nil {
			return nil, err
		}
	}
	return newFuzzyCursor(c, fuzzy.keepProb(predicted)), nil
}

func tupleCursors(idx *build.Index, tuples []entry.Tuple, dir rumkey.Direction, join func(a, b common.Datum) common.Datum, fuzzy FuzzyOpts) (occCursor, error) {
	if len(tuples) == 0 {
		return emptyCursor{}, nil
	}
	cs := make([]occCursor, 0, len(tuples))
	for _, t := range tuples {
		c, err := tupleCursorFuzzy(idx, t, dir, fuzzy)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	// The merge synchronizes on ItemPointer, so alt-ordered sub-streams
	// must be re-sorted before merging.
	if idx.Postings().AltOrder && len(cs) > 1 {
		for i, c := range cs {
			sorted, err := materializeIPtrOrder(c, dir)
			if err != nil {
				return nil, err
			}
			cs[i] = sorted
		}
	}
	return newMergedCursor(cs, dir, join), nil
}

func (e *Executor) better(a, b common.ItemPointer) bool {
	if e.dir == rumkey.Forward {
		return a.Compare(b) < 0
	}
	return a.Compare(b) > 0
}

// Next advances the merge, returning the next candidate tid that passes
// the opclass's Consistent check, or ok=false once every cursor is
// exhausted. In FastScan mode, candidates the cheaper
// PreConsistent overapproximation already rules out are skipped without
// paying for the exact-equality synchronization Consistent needs.
func (e *Executor) Next() (Result, bool, error) {
	for {
		minIdx := -1
		var minTID common.ItemPointer
		for i, c := range e.cursors {
			k, ok, err := c.Peek()
			if err != nil {
				return Result{}, false, err
			}
			if !ok {
				continue
			}
			if minIdx == -1 || e.better(k.IPtr, minTID) {
				minIdx, minTID = i, k.IPtr
			}
		}
		if minIdx == -1 {
			return Result{}, false, nil
		}

		if e.sk.ExecMode == FastScan {
			passed, err := e.preConsistentPasses()
			if err != nil {
				return Result{}, false, err
			}
			if !passed {
				if _, _, nerr := e.cursors[minIdx].Next(); nerr != nil {
					return Result{}, false, nerr
				}
				continue
			}
		}

		check := make([]bool, len(e.cursors))
		addInfo := make([]common.Datum, len(e.cursors))
		addInfoIsNull := make([]bool, len(e.cursors))
		for i, c := range e.cursors {
			k, ok, err := c.Peek()
			if err != nil {
				return Result{}, false, err
			}
			addInfoIsNull[i] = true
			if ok && k.IPtr.Compare(minTID) == 0 {
				check[i] = true
				addInfo[i] = k.AddInfo
				addInfoIsNull[i] = k.AddInfoIsNull
				if _, _, nerr := c.Next(); nerr != nil {
					return Result{}, false, nerr
				}
			}
		}

		match, recheck := e.col.VTable.Consistent(opclass.ConsistentArgs{
			Check:         check,
			Strategy:      e.sk.Strategy,
			Query:         e.sk.Query,
			AddInfo:       addInfo,
			AddInfoIsNull: addInfoIsNull,
		})
		if match {
			return Result{TID: minTID, Recheck: recheck, AddInfo: addInfo, AddInfoIsNull: addInfoIsNull}, true, nil
		}
	}
}

// preConsistentPasses builds the monotone "entry has a value pending"
// vector the fast-scan loop calls PreConsistent with -- cheaper than the
// full exact-equality check vector Consistent needs, since it
// only asks whether each entry still has anything left to contribute,
// not whether it agrees with the current candidate tid. maybeMatch=false
// means no Consistent call could possibly match, so the caller can skip
// straight to advancing the cursor; per PreConsistent's documented
// contract, ok=false means the opclass couldn't answer at all, so the
// caller must fall back to the full Consistent check rather than treat
// it as a rejection.
func (e *Executor) preConsistentPasses() (bool, error) {
	pending := make([]bool, len(e.cursors))
	for i, c := range e.cursors {
		_, ok, err := c.Peek()
		if err != nil {
			return false, err
		}
		pending[i] = ok
	}
	maybeMatch, ok := e.col.VTable.PreConsistent(opclass.ConsistentArgs{
		Check:    pending,
		Strategy: e.sk.Strategy,
		Query:    e.sk.Query,
	})
	if !ok {
		return true, nil
	}
	return maybeMatch, nil
}
