// Package rumkey defines RumKey -- the {ItemPointer, addInfoIsNull,
// addInfo} occurrence record -- and its comparator.
package rumkey

import "github.com/rumindex/rum/common"

// RumKey is a single indexed occurrence.
type RumKey struct {
	IPtr          common.ItemPointer
	AddInfoIsNull bool
	AddInfo       common.Datum
}

// CompareAddInfo compares two addInfo datums of the opclass's attached
// column type. Supplied by the opclass vtable.
type CompareAddInfo func(a, b common.Datum) int

// Direction is the active scan direction; a backward scan negates the
// comparator's sign.
type Direction int

const (
	Forward Direction = 1
	Backward Direction = -1
)

// Compare implements RumKey's total order. altOrder selects whether addInfo
// is compared before iptr; cmpAddInfo is required when
// altOrder is true. Ties fall back to iptr, then are considered equal.
//
// Natural order (altOrder=false): compare block, then offset.
// Alt order: addInfoIsNull sorts as +infinity (nulls last); when both are
// non-null, delegate to cmpAddInfo; on tie, fall back to iptr.
func Compare(a, b RumKey, altOrder bool, cmpAddInfo CompareAddInfo, dir Direction) int {
	var c int
	if altOrder {
		c = compareAlt(a, b, cmpAddInfo)
	} else {
		c = a.IPtr.Compare(b.IPtr)
	}
	return c * int(dir)
}

func compareAlt(a, b RumKey, cmpAddInfo CompareAddInfo) int {
	if a.AddInfoIsNull != b.AddInfoIsNull {
		if a.AddInfoIsNull {
			return 1
		}
		return -1
	}
	if !a.AddInfoIsNull {
		if c := cmpAddInfo(a.AddInfo, b.AddInfo); c != 0 {
			return c
		}
	}
	return a.IPtr.Compare(b.IPtr)
}

// Equal reports whether two RumKeys have the same ItemPointer -- the
// identity used for dedup.
func (k RumKey) Equal(o RumKey) bool { return k.IPtr.Compare(o.IPtr) == 0 }
