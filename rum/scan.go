package rum

import (
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumsort"
	"github.com/rumindex/rum/scan"
)

// ScanKeyArgs is one scan key as the host engine would describe it: which
// column, which opclass strategy, and the query value.
type ScanKeyArgs struct {
	Column      string
	Strategy    Strategy
	Query       common.Datum
	Direction   Direction
	WantOrdered bool
}

// Scan is one open index scan: built
// by AccessMethod.BeginScan, positioned by Rescan, drained by GetTuple/
// GetBitmap/OrderBy, released by End.
type Scan struct {
	am   *AccessMethod
	col  ColumnSpec
	args ScanKeyArgs
	ex   *scan.Executor
}

// BeginScan is the access method's beginScan() entry point: it
// returns an unpositioned scan, to be pointed at a scan key by Rescan.
func (am *AccessMethod) BeginScan() *Scan {
	return &Scan{am: am}
}

// Rescan is the access method's rescan(scan, scankey, nkeys, orderbys,
// norderbys): it (re)plans args through scan.Plan and opens a fresh
// executor, discarding whatever the scan was previously positioned at.
func (s *Scan) Rescan(args ScanKeyArgs) error {
	col, err := requireColumn(s.am, args.Column)
	if err != nil {
		return err
	}
	sk := scan.Plan(col.Column, args.Strategy, args.Query)
	ex, err := scan.NewExecutorFuzzy(s.am.Index, col.Column, sk, args.Direction, scan.FuzzyOpts{
		Limit:       s.am.Config.FuzzySearchLimit,
		WantOrdered: args.WantOrdered,
	})
	if err != nil {
		return err
	}
	s.col, s.args, s.ex = col, args, ex
	return nil
}

// GetTuple is the access method's gettuple(scan, direction) entry point: it
// returns the next matching candidate, or ok=false once the scan is
// exhausted.
func (s *Scan) GetTuple() (scan.Result, bool, error) {
	return s.ex.Next()
}

// GetBitmap is the access method's getbitmap(scan, tbm) entry point: it
// drains every remaining match (order doesn't matter for a bitmap scan,
// so ORDER BY is irrelevant here; fuzzy sampling applies only if the scan
// was positioned with WantOrdered set) and returns them together with the
// count the host would add to its bitmap.
func (s *Scan) GetBitmap() ([]scan.Result, int64, error) {
	var out []scan.Result
	for {
		res, ok, err := s.ex.Next()
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			break
		}
		out = append(out, res)
	}
	return out, int64(len(out)), nil
}

// OrderBy runs the distance-ordering pipeline for the currently
// positioned scan: it drains every match, scores it against strategy/
// query via the column's Ordering (or OuterOrdering, when orderByAttach is
// set), and returns them ascending by distance through rumsort's external
// merge; a scan that qualifies for scan.RunOrderBy's short-circuit skips
// the sort and streams storage order instead, which is descending for a
// backward scan on an attach index. attach mirrors the index's own order_by_attach configuration,
// since a scan may ORDER BY a plain column even on an attach-configured
// index.
func (s *Scan) OrderBy(strategy Strategy, query common.Datum, workMem int64, tmpDir string) (*rumsort.MergeIterator, error) {
	col := s.col.Column
	attach := s.am.Options.OrderByAttach
	if attach {
		// The distance comes from the attach column's opclass
		// (OuterOrdering over the discovered addInfo), not from the
		// column the scan qual targeted.
		if ac, ok := s.am.columnByName(s.am.Options.Attach); ok {
			col = ac.Column
		}
	}
	return scan.RunOrderBy(s.ex, col, strategy, query, attach, workMem, tmpDir)
}

// End is the access method's endScan() entry point. A scan holds no OS
// resources to release explicitly (no external cursors, no open file
// handles beyond the shared pager), so this only exists for symmetry with
// the host engine's scan lifecycle.
func (s *Scan) End() {}
