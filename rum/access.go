// Package rum wires every other package into RUM's external interface:
// build, buildempty, insert, beginScan/rescan/gettuple/getbitmap/endScan,
// bulkdelete/vacuumcleanup, validate, and options. Everything here is a
// host-engine-facing adapter -- no new on-disk format or algorithm lives
// in this package, only the plumbing that turns a caller's row/query
// values into calls against build, scan and vacuum.
package rum

import (
	"github.com/pkg/errors"

	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/latch"
	"github.com/rumindex/rum/opclass"
	"github.com/rumindex/rum/pager"
	"github.com/rumindex/rum/rumkey"
	"github.com/rumindex/rum/vacuum"
)

// ColumnSpec names one indexed column, pairing build.Column with the name
// the host engine's values/reloptions address it by -- the one place a
// column *name* matters, since build.Column (and every package beneath
// it) only ever sees an attnum.
type ColumnSpec struct {
	Name string
	build.Column
}

// AccessMethod is one open RUM index: the underlying pager/index plus the
// resolved opclass and attach-column configuration a session needs to
// drive build, insert, scan and vacuum against it.
type AccessMethod struct {
	Pager   *pager.Pager
	Index   *build.Index
	Latches *latch.Manager
	Config  common.IndexConfig
	Columns []ColumnSpec
	Options Options
}

func (am *AccessMethod) columnByName(name string) (ColumnSpec, bool) {
	for _, c := range am.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

func (am *AccessMethod) attachValue(values map[string]common.Datum, nulls map[string]bool) build.AttachValue {
	if am.Options.Attach == "" {
		return build.AttachValue{}
	}
	return build.AttachValue{
		Present: true,
		Value:   values[am.Options.Attach],
		IsNull:  nulls[am.Options.Attach],
	}
}

func (am *AccessMethod) rowValues(values map[string]common.Datum, nulls map[string]bool) map[uint16]build.ColumnValue {
	row := make(map[uint16]build.ColumnValue, len(am.Columns))
	for _, c := range am.Columns {
		row[c.Attnum] = build.ColumnValue{Value: values[c.Name], IsNull: nulls[c.Name]}
	}
	return row
}

func buildColumns(cols []ColumnSpec) []build.Column {
	out := make([]build.Column, len(cols))
	for i, c := range cols {
		out[i] = c.Column
	}
	return out
}

func newAccessMethod(p *pager.Pager, cfg common.IndexConfig, cols []ColumnSpec, opts Options) (*AccessMethod, error) {
	addInfoAttr, cmpAddInfo, err := opts.addInfoConfig(cols)
	if err != nil {
		return nil, err
	}
	idx := build.NewIndex(p, buildColumns(cols), addInfoAttr, opts.OrderByAttach, cmpAddInfo, cfg.MaintenanceWorkMem)
	return &AccessMethod{
		Pager:   p,
		Index:   idx,
		Latches: latch.NewManager(),
		Config:  cfg,
		Columns: cols,
		Options: opts,
	}, nil
}

// BuildEmpty is the access method's buildempty() entry point: it initializes a
// fresh, empty index file -- a metapage plus a single empty leaf entry-tree
// root (pager.Open's create path) -- without reading any heap rows.
func BuildEmpty(cfg common.IndexConfig, cols []ColumnSpec, opts Options) (*AccessMethod, error) {
	if err := Validate(cols); err != nil {
		return nil, err
	}
	if err := opts.validateAgainst(cols); err != nil {
		return nil, err
	}
	p, err := pager.Open(cfg)
	if err != nil {
		return nil, err
	}
	am, err := newAccessMethod(p, cfg, cols, opts)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return am, nil
}

// Open reopens an already-built index file. Every call re-derives the
// opclass/attach configuration from cols and opts, the same way a host
// engine re-resolves an opclass from its catalog each session rather than
// persisting it on disk.
func Open(cfg common.IndexConfig, cols []ColumnSpec, opts Options) (*AccessMethod, error) {
	return BuildEmpty(cfg, cols, opts)
}

// HeapRow is one row build's caller feeds through, keyed by column name
// rather than positional values/isnull arrays, since ColumnSpec carries
// names.
type HeapRow struct {
	TID    common.ItemPointer
	Values map[string]common.Datum
	Nulls  map[string]bool
}

// RowSource streams heap rows for Build, mirroring the posting/entry
// cursors' Next-returns-ok pattern used throughout this module.
type RowSource interface {
	Next() (HeapRow, bool, error)
}

// BuildResult is what Build returns:
// the heap and index tuple counts observed during the bulk build.
type BuildResult struct {
	HeapTuples  int64
	IndexTuples int64
}

// Build is the access method's build() entry point: it creates a fresh empty index
// (buildempty's job, done first) then drains rows through the accumulate/
// drain/insert pipeline (build.Index.AddToBuild/FinishBuild) and
// returns the resulting counts.
func Build(cfg common.IndexConfig, cols []ColumnSpec, opts Options, rows RowSource) (*AccessMethod, BuildResult, error) {
	am, err := BuildEmpty(cfg, cols, opts)
	if err != nil {
		return nil, BuildResult{}, err
	}

	var heapTuples int64
	for {
		row, ok, err := rows.Next()
		if err != nil {
			return nil, BuildResult{}, err
		}
		if !ok {
			break
		}
		rowVals := am.rowValues(row.Values, row.Nulls)
		attach := am.attachValue(row.Values, row.Nulls)
		if err := am.Index.AddToBuild(row.TID, rowVals, attach); err != nil {
			return nil, BuildResult{}, err
		}
		heapTuples++
	}
	if err := am.Index.FinishBuild(); err != nil {
		return nil, BuildResult{}, err
	}

	meta := am.Pager.Meta()
	return am, BuildResult{HeapTuples: heapTuples, IndexTuples: meta.BuildIndexTuples}, nil
}

// Insert is the access method's insert() entry point. It always returns false (RUM
// never enforces uniqueness).
func (am *AccessMethod) Insert(tid common.ItemPointer, values map[string]common.Datum, nulls map[string]bool) (bool, error) {
	rowVals := am.rowValues(values, nulls)
	attach := am.attachValue(values, nulls)
	if err := am.Index.Insert(tid, rowVals, attach); err != nil {
		return false, err
	}
	return false, nil
}

// BulkDelete is the access method's bulkdelete() entry point: it runs vacuum's
// two-phase leaf scrub/posting-tree compaction with cb as the MVCC
// visibility callback.
func (am *AccessMethod) BulkDelete(cb vacuum.Callback) (vacuum.Stats, error) {
	return vacuum.Run(am.Index, am.Latches, cb)
}

// VacuumCleanup is the access method's vacuumcleanup() entry point: it projects the
// current metapage counters, refreshed by the most
// recent BulkDelete or insert activity.
func (am *AccessMethod) VacuumCleanup() common.Stats {
	meta := am.Pager.Meta()
	return meta.Stats()
}

// Close flushes and closes the underlying pager.
func (am *AccessMethod) Close() error {
	return am.Pager.Close()
}

var errUnknownColumn = errors.New("rum: scan references unknown column")

func requireColumn(am *AccessMethod, name string) (ColumnSpec, error) {
	col, ok := am.columnByName(name)
	if !ok {
		return ColumnSpec{}, errors.Wrapf(errUnknownColumn, "%q", name)
	}
	return col, nil
}

// direction and strategy are re-exported for callers that only import rum.
type (
	Direction = rumkey.Direction
	Strategy  = opclass.Strategy
)

const (
	Forward  = rumkey.Forward
	Backward = rumkey.Backward
)
