// Package scan implements RUM's query-time pipeline:
// translate a query value into scan entries via the opclass's
// ExtractQuery, merge the matching entries' occurrence streams with a
// Consistent check per candidate tid, and (optionally) order the result
// by a per-row distance through the rumsort external-sort adapter.
//
// A scan key resolves to one or more scan entries whose streams the
// executor ANDs/ORs together through the opclass's own Consistent
// function; planning is what turns the opaque query datum into those
// entries and picks the execution mode.
package scan

import (
	"github.com/rumindex/rum/build"
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/opclass"
)

// ScanEntry is one (category, key) pair a scan key resolves to occurrence
// cursors for. IsPartial marks entries the opclass's ComparePartial must
// be consulted for rather than an exact entry-tree lookup.
type ScanEntry struct {
	Category  common.NullCategory
	Key       common.Datum
	IsPartial bool
}

// ExecMode is the scan-execution strategy the executor drives a ScanKey's
// entries with.
type ExecMode int

const (
	// RegularScan advances every entry to exact tid equality before
	// calling the opclass's Consistent.
	RegularScan ExecMode = iota
	// FastScan additionally prunes candidates with the opclass's cheaper
	// PreConsistent overapproximation before paying for the exact-equality
	// synchronization Consistent needs.
	FastScan
	// FullScan marks a key seeded with an EMPTY_QUERY entry -- every
	// indexed occurrence for the column streams through, addInfo and all.
	FullScan
)

// ScanKey is one planned index scan: the attnum it targets, the opclass
// strategy and query value that produced it, and the entries to merge.
type ScanKey struct {
	Attnum   uint16
	Strategy opclass.Strategy
	Query    common.Datum
	Mode     opclass.SearchMode
	ExecMode ExecMode
	Entries  []ScanEntry
}

// selectExecMode picks the execution strategy: FullScan iff any entry
// carries the EMPTY_QUERY sentinel (seeded by ALL/EVERYTHING search
// modes), else FastScan iff the opclass exposes PreConsistent and no
// entry needs a partial-match scan, else RegularScan.
func selectExecMode(entries []ScanEntry, preConsistent func(opclass.ConsistentArgs) (bool, bool)) ExecMode {
	for _, e := range entries {
		if e.Category == common.CategoryEmptyQuery {
			return FullScan
		}
	}
	if preConsistent == nil {
		return RegularScan
	}
	for _, e := range entries {
		if e.IsPartial {
			return RegularScan
		}
	}
	return FastScan
}

// Plan calls col's ExtractQuery and lowers the result into a ScanKey,
// deduping entries that resolve to the same (category, key)
// and selecting the key's execution mode.
func Plan(col build.Column, strategy opclass.Strategy, query common.Datum) ScanKey {
	eq := col.VTable.ExtractQuery(query, strategy)

	entries := make([]ScanEntry, len(eq.Categories))
	for i, cat := range eq.Categories {
		var key common.Datum
		if i < len(eq.Keys) {
			key = eq.Keys[i]
		}
		partial := i < len(eq.PartialMatch) && eq.PartialMatch[i]
		entries[i] = ScanEntry{Category: cat, Key: key, IsPartial: partial}
	}
	deduped := dedupEntries(entries, col.VTable.Compare)

	return ScanKey{
		Attnum:   col.Attnum,
		Strategy: strategy,
		Query:    query,
		Mode:     eq.SearchMode,
		ExecMode: selectExecMode(deduped, col.VTable.PreConsistent),
		Entries:  deduped,
	}
}

func dedupEntries(entries []ScanEntry, cmp func(a, b common.Datum) int) []ScanEntry {
	out := make([]ScanEntry, 0, len(entries))
	for _, e := range entries {
		dup := false
		for _, o := range out {
			if o.Category != e.Category || o.IsPartial != e.IsPartial {
				continue
			}
			if e.Category != common.CategoryNorm || cmp(o.Key, e.Key) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}
