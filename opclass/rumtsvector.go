package opclass

import (
	"math"
	"sort"
	"strings"

	"github.com/rumindex/rum/common"
)

// TsMatch is the tsvector opclass's single strategy number, "@@".
const TsMatch Strategy = 1

// tokenize lowercases and splits on whitespace, returning sorted unique
// tokens -- a reference tokenizer, not a real text-search parser; it
// stands in for one so Tsvector() has something concrete to extract.
func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func datumString(d common.Datum) string { return string(d.Bytes()) }

// Tsvector is a reference opclass over a simplified tsvector-like column:
// a document's value is indexed one entry per distinct word, and a query
// is one or more whitespace-separated words ANDed together. Paired with
// the attach/order_by_attach reloptions and Timestamp() below, it drives
// in-index ORDER BY over an attached timestamp column.
func Tsvector() VTable {
	return VTable{
		Compare: func(a, b common.Datum) int { return strings.Compare(datumString(a), datumString(b)) },
		ExtractValue: func(value common.Datum, isNull bool) ExtractedValue {
			if isNull {
				return ExtractedValue{Categories: []common.NullCategory{common.CategoryNullKey}}
			}
			words := tokenize(datumString(value))
			if len(words) == 0 {
				return ExtractedValue{Categories: []common.NullCategory{common.CategoryEmptyItem}}
			}
			out := ExtractedValue{
				Keys:          make([]common.Datum, len(words)),
				Categories:    make([]common.NullCategory, len(words)),
				AddInfoIsNull: make([]bool, len(words)),
			}
			for i, w := range words {
				out.Keys[i] = common.NewBytesDatum([]byte(w))
				out.Categories[i] = common.CategoryNorm
				out.AddInfoIsNull[i] = true
			}
			return out
		},
		ExtractQuery: func(query common.Datum, strategy Strategy) ExtractedQuery {
			words := tokenize(datumString(query))
			out := ExtractedQuery{
				Keys:         make([]common.Datum, len(words)),
				Categories:   make([]common.NullCategory, len(words)),
				PartialMatch: make([]bool, len(words)),
			}
			for i, w := range words {
				out.Keys[i] = common.NewBytesDatum([]byte(w))
				out.Categories[i] = common.CategoryNorm
			}
			return out
		},
		Consistent: func(a ConsistentArgs) (bool, bool) {
			for _, ok := range a.Check {
				if !ok {
					return false, false
				}
			}
			return true, false
		},
		PreConsistent: func(a ConsistentArgs) (bool, bool) {
			for _, ok := range a.Check {
				if !ok {
					return false, true
				}
			}
			return true, true
		},
	}
}

// Timestamp strategy numbers for a standalone int8-timestamp column.
const (
	TimestampLt Strategy = 1
	TimestampLe Strategy = 2
	TimestampEq Strategy = 3
	TimestampGe Strategy = 4
	TimestampGt Strategy = 5
)

// TimestampAttr describes an 8-byte pass-by-value timestamp column, used
// both as an ordinary indexed column and as the addInfo type of an
// attach-column configuration.
var TimestampAttr = common.AttrDesc{TypLen: common.TypLen8, ByVal: true, Align: 8}

func timestampCompare(a, b common.Datum) int {
	av, bv := a.Uint64(), b.Uint64()
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// Timestamp is the reference opclass for an int8 timestamp column, usable
// either as a plain indexed column or as an alt-order attach column's
// sibling.
func Timestamp() VTable {
	return VTable{
		Compare: timestampCompare,
		ExtractValue: func(value common.Datum, isNull bool) ExtractedValue {
			if isNull {
				return ExtractedValue{Categories: []common.NullCategory{common.CategoryNullKey}}
			}
			return ExtractedValue{
				Keys:          []common.Datum{value},
				Categories:    []common.NullCategory{common.CategoryNorm},
				AddInfoIsNull: []bool{true},
			}
		},
		ExtractQuery: func(query common.Datum, strategy Strategy) ExtractedQuery {
			// Range strategies start the partial-match walk at the
			// leftmost key of the range: zero for the below-the-bound
			// strategies, the query itself otherwise. ComparePartial
			// judges candidates against the query and stops the walk
			// past the bound.
			start := query
			if strategy == TimestampLt || strategy == TimestampLe {
				start = common.NewUint64Datum(0)
			}
			return ExtractedQuery{
				Keys:         []common.Datum{start},
				Categories:   []common.NullCategory{common.CategoryNorm},
				PartialMatch: []bool{strategy != TimestampEq},
			}
		},
		Consistent: func(a ConsistentArgs) (bool, bool) {
			for _, ok := range a.Check {
				if !ok {
					return false, false
				}
			}
			return true, false
		},
		ComparePartial: func(query, key common.Datum, strategy Strategy) int {
			c := timestampCompare(key, query)
			switch strategy {
			case TimestampLt:
				if c < 0 {
					return 0
				}
				return 1
			case TimestampLe:
				if c <= 0 {
					return 0
				}
				return 1
			case TimestampGe:
				if c >= 0 {
					return 0
				}
				return -1
			case TimestampGt:
				if c > 0 {
					return 0
				}
				return -1
			default:
				if c == 0 {
					return 0
				}
				if c < 0 {
					return -1
				}
				return 1
			}
		},
		Ordering: func(a OrderingArgs) float64 {
			return float64(a.Query.Uint64())
		},
		// OuterOrdering answers an attach-column ORDER BY without ever
		// consulting this column's own entries: it is handed the
		// addInfo value the posting-tree scan discovered for the
		// *attached* occurrence directly.
		OuterOrdering: func(outerAddInfo common.Datum, outerIsNull bool, query common.Datum, strategy Strategy) float64 {
			if outerIsNull {
				return math.Inf(1)
			}
			return float64(outerAddInfo.Uint64())
		},
	}
}
