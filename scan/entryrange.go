package scan

import (
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/entry"
	"github.com/rumindex/rum/rpage"
)

// scanPartialMatchTuples walks the entry tree's leaf chain forward from
// startKey, collecting every NORM_KEY tuple under attnum whose key the
// opclass's ComparePartial reports a match (0) for, and stopping as soon
// as it reports "past the range" (positive). Keys it reports "before the
// range" (negative) for are skipped without being collected.
func scanPartialMatchTuples(et *entry.Tree, attnum uint16, startKey common.Datum, cmpPartial func(key common.Datum) int) ([]entry.Tuple, error) {
	routingKey := et.Codec.EncodePrefix(attnum, common.CategoryNorm, startKey)
	page, err := et.FindLeaf(routingKey)
	if err != nil {
		return nil, err
	}

	var tuples []entry.Tuple
	for {
		n := page.MaxOffset()
		stop := false
		for i := uint16(0); i < n; i++ {
			raw, rerr := page.RawCellAt(i)
			if rerr != nil {
				return nil, rerr
			}
			tupAttnum, tupCat, tupKey, _, derr := et.Codec.DecodePrefix(raw)
			if derr != nil {
				return nil, derr
			}
			if tupAttnum > attnum {
				stop = true
				break
			}
			if tupAttnum < attnum {
				continue
			}
			if tupCat > common.CategoryNorm {
				stop = true
				break
			}
			if tupCat < common.CategoryNorm {
				continue
			}
			switch c := cmpPartial(tupKey); {
			case c > 0:
				stop = true
			case c == 0:
				tup, terr := entry.DecodeTuple(et.Codec, et.AddInfoAttr, raw)
				if terr != nil {
					return nil, terr
				}
				tuples = append(tuples, tup)
			}
			if stop {
				break
			}
		}
		if stop {
			break
		}
		next := page.RightLink()
		if next == rpage.InvalidBlock {
			break
		}
		page, err = et.Pager.GetPage(next)
		if err != nil {
			return nil, err
		}
	}
	return tuples, nil
}

// scanAllTuplesForAttnum walks every entry-tree tuple for attnum
// regardless of category or key, backing a SearchAll/SearchEverything
// scan key. That mode is represented by a scan entry whose category is
// EMPTY_QUERY, which by definition sorts before every real category and
// thus never matches exactly; the executor only ever asks for this when
// the whole attnum is in scope.
func scanAllTuplesForAttnum(et *entry.Tree, attnum uint16) ([]entry.Tuple, error) {
	routingKey := et.Codec.EncodePrefix(attnum, common.CategoryEmptyQuery, common.Datum{})
	page, err := et.FindLeaf(routingKey)
	if err != nil {
		return nil, err
	}

	var tuples []entry.Tuple
	for {
		n := page.MaxOffset()
		stop := false
		for i := uint16(0); i < n; i++ {
			raw, rerr := page.RawCellAt(i)
			if rerr != nil {
				return nil, rerr
			}
			tupAttnum, _, _, _, derr := et.Codec.DecodePrefix(raw)
			if derr != nil {
				return nil, derr
			}
			if tupAttnum > attnum {
				stop = true
				break
			}
			if tupAttnum < attnum {
				continue
			}
			tup, terr := entry.DecodeTuple(et.Codec, et.AddInfoAttr, raw)
			if terr != nil {
				return nil, terr
			}
			tuples = append(tuples, tup)
		}
		if stop {
			break
		}
		next := page.RightLink()
		if next == rpage.InvalidBlock {
			break
		}
		page, err = et.Pager.GetPage(next)
		if err != nil {
			return nil, err
		}
	}
	return tuples, nil
}
