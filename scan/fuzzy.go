package scan

import (
	"math/rand"

	"github.com/rumindex/rum/rumkey"
)

// FuzzyOpts configures fuzzy_search_limit sampling:
// once a scan entry's occurrence count exceeds Limit, its occurrences are
// dropped independently with probability 1 - Limit/predicted, a cost
// guard that only ever returns a subset of the exact answer and is only
// ever applied on the ordered (WantOrdered) path -- getbitmap scans always
// see the exact result.
//
// There is no descent-stack running estimate of an entry's cardinality
// here; the guard substitutes the scan entry's exact occurrence count
// (len(tup.Postings) or posting.Tree.Count) instead. A cost guard's
// estimate doesn't need to be cheap to compute to be a valid guard, only
// its effect needs to stay probabilistic -- using the exact count changes
// nothing about the property this guards: the result is always a subset
// of the exact answer.
type FuzzyOpts struct {
	Limit       uint32
	WantOrdered bool
}

func (f FuzzyOpts) active() bool { return f.WantOrdered && f.Limit > 0 }

// keepProb returns the probability an occurrence from a predicted-size-n
// entry should survive fuzzy dropping.
func (f FuzzyOpts) keepProb(predicted int) float64 {
	if predicted <= int(f.Limit) {
		return 1
	}
	return float64(f.Limit) / float64(predicted)
}

// fuzzyCursor independently drops each occurrence of inner with
// probability 1-keepProb, preserving inner's order and direction.
type fuzzyCursor struct {
	inner       occCursor
	keepProb    float64
	buffered    rumkey.RumKey
	hasBuffered bool
	done        bool
}

func newFuzzyCursor(inner occCursor, keepProb float64) occCursor {
	if keepProb >= 1 {
		return inner
	}
	return &fuzzyCursor{inner: inner, keepProb: keepProb}
}

func (f *fuzzyCursor) fill() error {
	if f.hasBuffered || f.done {
		return nil
	}
	for {
		k, ok, err := f.inner.Next()
		if err != nil {
			return err
		}
		if !ok {
			f.done = true
			return nil
		}
		if rand.Float64() < f.keepProb {
			f.buffered, f.hasBuffered = k, true
			return nil
		}
	}
}

func (f *fuzzyCursor) Peek() (rumkey.RumKey, bool, error) {
	if err := f.fill(); err != nil {
		return rumkey.RumKey{}, false, err
	}
	if !f.hasBuffered {
		return rumkey.RumKey{}, false, nil
	}
	return f.buffered, true, nil
}

func (f *fuzzyCursor) Next() (rumkey.RumKey, bool, error) {
	k, ok, err := f.Peek()
	if !ok || err != nil {
		return k, ok, err
	}
	f.hasBuffered = false
	return k, true, nil
}
