package scan

import (
	"github.com/pkg/errors"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/rumkey"
	"github.com/rumindex/rum/rumsort"
)

// ErrReverseUnsupported is returned when a caller asks to resume an
// ORDER BY scan backward over an index that isn't configured with
// order_by_attach: without an attach column's alt-ordered posting tree,
// the distance a row would sort by was never materialised on disk, so a
// reverse continuation has nothing to merge-resume from.
var ErrReverseUnsupported = errors.Wrap(common.ErrUnsupported, "scan: reverse order-by continuation requires an attach column")

// RunOrderBy drains ex's matches, scores each with col's Ordering (or, for
// an attach-column index, OuterOrdering against the posting occurrence's
// own addInfo), and returns them sorted ascending by distance through the
// rumsort external-sort adapter.
//
// When the scan qualifies for the natural-order short-circuit (see
// naturalOrderMonotonic), RunOrderBy skips the external sort entirely and
// streams ex's own order straight into a MergeIterator: ascending distance
// for a forward scan, descending for a backward scan on an attach index.
func RunOrderBy(ex *Executor, col build.Column, strategy opclass.Strategy, query common.Datum, attach bool, workMem int64, tmpDir string) (*rumsort.MergeIterator, error) {
	if ex.dir == rumkey.Backward && !attach {
		return nil, ErrReverseUnsupported
	}

	if naturalOrderMonotonic(ex, attach) {
		return streamNaturalOrder(ex, col, strategy, query, attach)
	}

	sorter := rumsort.NewSorter(tmpDir, workMem, func(a, b rumsort.RumSortItem) bool {
		return a.Distances[0] < b.Distances[0]
	})

	for {
		res, ok, err := ex.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dist := orderByDistance(col, strategy, query, res, attach)
		item := rumsort.RumSortItem{TID: res.TID, Recheck: res.Recheck, Distances: []float64{dist}}
		if err := sorter.Add(item); err != nil {
			return nil, err
		}
	}
	return sorter.Finish()
}

// naturalOrderMonotonic reports whether ex's own occurrence order is
// already ascending in the distance RunOrderBy would otherwise sort by.
// This holds when the index carries an attach column -- every posting
// tree ex reads from is then stored in alt-order, addInfo-first
// (build.NewIndex's altOrder flag) -- and ex resolved to exactly one
// occurrence cursor, so the executor's tid-merge never reorders it
// against a second entry. ex.dir chooses which side of that order
// RunOrderBy gets for free: Forward yields ascending addInfo, Backward
// yields descending, so flipping direction serves the opposite ORDER BY
// request directly from storage order. The occurrence cursors support
// reading either direction from the start, so there is never a partial
// forward scan to resume in reverse.
func naturalOrderMonotonic(ex *Executor, attach bool) bool {
	if !attach || len(ex.cursors) != 1 {
		return false
	}
	// A merged cursor (partial match over several tuples) synchronizes on
	// ItemPointer, so its emission order is no longer the storage order.
	_, merged := ex.cursors[0].(*mergedCursor)
	return !merged
}

// streamNaturalOrder scores every match in ex's own order and hands the
// already-ordered slice to rumsort.FromSorted, skipping the sort step.
func streamNaturalOrder(ex *Executor, col build.Column, strategy opclass.Strategy, query common.Datum, attach bool) (*rumsort.MergeIterator, error) {
	var items []rumsort.RumSortItem
	for {
		res, ok, err := ex.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dist := orderByDistance(col, strategy, query, res, attach)
		items = append(items, rumsort.RumSortItem{TID: res.TID, Recheck: res.Recheck, Distances: []float64{dist}})
	}
	return rumsort.FromSorted(items), nil
}

func orderByDistance(col build.Column, strategy opclass.Strategy, query common.Datum, res Result, attach bool) float64 {
	if attach && col.VTable.OuterOrdering != nil {
		var outer common.Datum
		outerNull := true
		for i, v := range res.AddInfo {
			if !res.AddInfoIsNull[i] {
				outer, outerNull = v, false
				break
			}
		}
		return col.VTable.OuterOrdering(outer, outerNull, query, strategy)
	}
	if col.VTable.Ordering == nil {
		return 0
	}
	return col.VTable.Ordering(opclass.OrderingArgs{
		Strategy:      strategy,
		Query:         query,
		AddInfo:       res.AddInfo,
		AddInfoIsNull: res.AddInfoIsNull,
	})
}
