// Package opclass defines RUM's pluggable opclass surface: the functions
// the core calls into but never defines itself -- compare, extractValue,
// extractQuery, consistent, and a set of optional strategy/ranking hooks.
//
// Rather than an interface plus a capability bitset, VTable is a struct
// of function fields: a nil field *is* the "not supported" bit, since no
// Go interface can express a method as present-or-absent without a
// second side channel anyway.
package opclass

import "github.com/rumindex/rum/common"

// Strategy is an opclass-defined operator strategy number (e.g. "=", "<",
// "@@"), meaningful only to that opclass's own functions.
type Strategy int

// SearchMode normalises ExtractQuery's requested search breadth.
type SearchMode int

const (
	SearchDefault SearchMode = iota
	SearchIncludeEmpty
	SearchAll
	SearchEverything
)

// ExtractedValue is what ExtractValue returns for one indexed column
// value: the set of keys to emit as entries, each with its null category
// and (if the opclass supplies it) addInfo.
type ExtractedValue struct {
	Keys          []common.Datum
	Categories    []common.NullCategory
	AddInfo       []common.Datum
	AddInfoIsNull []bool
}

// ExtractedQuery is what ExtractQuery returns for one scan key.
type ExtractedQuery struct {
	Keys         []common.Datum
	Categories   []common.NullCategory
	PartialMatch []bool
	ExtraData    [][]byte
	SearchMode   SearchMode
}

// ConsistentArgs bundles the arguments Consistent/PreConsistent take.
type ConsistentArgs struct {
	Check           []bool
	Strategy        Strategy
	Query           common.Datum
	NUserEntries    int
	ExtraData       [][]byte
	QueryKeys       []common.Datum
	QueryCategories []common.NullCategory
	AddInfo         []common.Datum
	AddInfoIsNull   []bool
}

// OrderingArgs bundles the arguments an Ordering function needs to score
// one candidate row against an ORDER BY clause.
type OrderingArgs struct {
	Check         []bool
	Strategy      Strategy
	Query         common.Datum
	ExtraData     [][]byte
	AddInfo       []common.Datum
	AddInfoIsNull []bool
}

// StrategyInfo describes one strategy number's ORDER BY role, part of
// Config's output.
type StrategyInfo struct {
	Number     Strategy
	IsOrderBy  bool
	Descending bool
}

// Config is what an opclass's optional Config hook returns.
type Config struct {
	AddInfoAttr   common.AttrDesc
	StrategyInfos []StrategyInfo
}

// VTable is the set of functions one indexed column's opclass supplies.
// Compare, ExtractValue, ExtractQuery and Consistent are mandatory; every
// other field may be nil.
type VTable struct {
	Compare      func(a, b common.Datum) int
	ExtractValue func(value common.Datum, isNull bool) ExtractedValue
	ExtractQuery func(query common.Datum, strategy Strategy) ExtractedQuery
	Consistent   func(ConsistentArgs) (match bool, recheck bool)

	// ComparePartial orders a partial-match query key against a
	// candidate entry key: 0 means match, negative means "keep scanning
	// forward", positive means "stop, we've gone past the range". The
	// first argument is the original query value; the entry key the walk
	// started from is only a lower bound, not the thing compared against.
	ComparePartial func(query, key common.Datum, strategy Strategy) int

	Config func() Config

	// PreConsistent is a monotone overapproximation of Consistent used by
	// the fast-scan loop: ok=false means the opclass
	// can't answer without materialising the full entryRes, falling back
	// to Consistent.
	PreConsistent func(ConsistentArgs) (maybeMatch bool, ok bool)

	Ordering      func(OrderingArgs) float64
	OuterOrdering func(outerAddInfo common.Datum, outerIsNull bool, query common.Datum, strategy Strategy) float64

	// JoinAddInfo merges two addInfo values discovered for the same
	// ItemPointer across a partial-match entry's contiguous occurrences.
	// A nil JoinAddInfo means "propagate the non-null side" (the core's
	// default when merging).
	JoinAddInfo func(a, b common.Datum) common.Datum
}
