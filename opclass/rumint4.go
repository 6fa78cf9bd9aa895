package opclass

import (
	"math"

	"github.com/rumindex/rum/common"
)

// Int4 strategy numbers, matching the host engine's btree strategy
// numbering convention.
const (
	Int4Lt Strategy = 1
	Int4Le Strategy = 2
	Int4Eq Strategy = 3
	Int4Ge Strategy = 4
	Int4Gt Strategy = 5
)

// Int4Attr is the attribute descriptor for a 4-byte pass-by-value int4
// key/addInfo column.
var Int4Attr = common.AttrDesc{TypLen: common.TypLen4, ByVal: true, Align: 4}

func int4Compare(a, b common.Datum) int {
	av, bv := a.Int32(), b.Int32()
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// Int4 is a reference opclass over plain int4 equality and range
// predicates. It carries no addInfo of its own (every occurrence's
// addInfoIsNull is true).
func Int4() VTable {
	return VTable{
		Compare: int4Compare,
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
			if strategy == Int4Eq {
				return ExtractedQuery{
					Keys:         []common.Datum{query},
					Categories:   []common.NullCategory{common.CategoryNorm},
					PartialMatch: []bool{false},
				}
			}
			// Range strategies are partial matches: the entry returned
			// here is only the point the forward walk starts at, so a
			// below-the-bound range (<, <=) must start at the leftmost
			// possible key; ComparePartial stops the walk at the bound.
			start := query
			if strategy == Int4Lt || strategy == Int4Le {
				start = common.NewInt32Datum(math.MinInt32)
			}
			return ExtractedQuery{
				Keys:         []common.Datum{start},
				Categories:   []common.NullCategory{common.CategoryNorm},
				PartialMatch: []bool{true},
			}
		},
		// Consistent always reports recheck=false: equality/range on a
		// scalar type never needs a heap recheck, the index structure
		// itself is exact.
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
		ComparePartial: func(query, key common.Datum, strategy Strategy) int {
			c := int4Compare(key, query)
			switch strategy {
			case Int4Lt:
				if c < 0 {
					return 0
				}
				return 1
			case Int4Le:
				if c <= 0 {
					return 0
				}
				return 1
			case Int4Ge:
				if c >= 0 {
					return 0
				}
				return -1
			case Int4Gt:
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
			return float64(a.Query.Int32())
		},
	}
}
