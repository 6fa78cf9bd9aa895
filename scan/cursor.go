package scan

import (
	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumkey"
)

// occCursor is the shape both posting.Cursor and scan's own in-memory
// cursors satisfy, letting the executor merge inline and posting-tree
// occurrence streams uniformly.
type occCursor interface {
	Peek() (rumkey.RumKey, bool, error)
	Next() (rumkey.RumKey, bool, error)
}

// emptyCursor is the cursor for a scan entry with no matching tuple.
type emptyCursor struct{}

func (emptyCursor) Peek() (rumkey.RumKey, bool, error) { return rumkey.RumKey{}, false, nil }
func (emptyCursor) Next() (rumkey.RumKey, bool, error) { return rumkey.RumKey{}, false, nil }

// sliceCursor walks an inline posting list already stored in ascending
// iptr order, in either direction.
type sliceCursor struct {
	items []rumkey.RumKey
	pos   int
	dir   rumkey.Direction
}

func newSliceCursor(items []rumkey.RumKey, dir rumkey.Direction) *sliceCursor {
	pos := 0
	if dir == rumkey.Backward {
		pos = len(items) - 1
	}
	return &sliceCursor{items: items, pos: pos, dir: dir}
}

func (s *sliceCursor) Peek() (rumkey.RumKey, bool, error) {
	if s.pos < 0 || s.pos >= len(s.items) {
		return rumkey.RumKey{}, false, nil
	}
	return s.items[s.pos], true, nil
}

func (s *sliceCursor) Next() (rumkey.RumKey, bool, error) {
	k, ok, err := s.Peek()
	if !ok || err != nil {
		return k, ok, err
	}
	if s.dir == rumkey.Forward {
		s.pos++
	} else {
		s.pos--
	}
	return k, true, nil
}

// mergedCursor merges several already-sorted occCursors (e.g. one per
// tuple a partial-match scan entry resolved to) into a single ascending
// (per dir) stream, joining addInfo for iptr collisions across cursors
// the way the opclass's JoinAddInfo (or the default "keep non-null
// side") dictates.
type mergedCursor struct {
	cursors []occCursor
	dir     rumkey.Direction
	join    func(a, b common.Datum) common.Datum
}

func newMergedCursor(cursors []occCursor, dir rumkey.Direction, join func(a, b common.Datum) common.Datum) occCursor {
	if len(cursors) == 1 {
		return cursors[0]
	}
	return &mergedCursor{cursors: cursors, dir: dir, join: join}
}

func (m *mergedCursor) better(a, b common.ItemPointer) bool {
	if m.dir == rumkey.Forward {
		return a.Compare(b) < 0
	}
	return a.Compare(b) > 0
}

func (m *mergedCursor) Peek() (rumkey.RumKey, bool, error) {
	best := -1
	var bestKey rumkey.RumKey
	for i, c := range m.cursors {
		k, ok, err := c.Peek()
		if err != nil {
			return rumkey.RumKey{}, false, err
		}
		if !ok {
			continue
		}
		if best == -1 || m.better(k.IPtr, bestKey.IPtr) {
			best, bestKey = i, k
		}
	}
	if best == -1 {
		return rumkey.RumKey{}, false, nil
	}
	// merge addInfo across every cursor currently sitting on the same iptr
	for i, c := range m.cursors {
		if i == best {
			continue
		}
		k, ok, err := c.Peek()
		if err != nil {
			return rumkey.RumKey{}, false, err
		}
		if ok && k.IPtr.Compare(bestKey.IPtr) == 0 {
			bestKey = joinRumKey(bestKey, k, m.join)
		}
	}
	return bestKey, true, nil
}

func (m *mergedCursor) Next() (rumkey.RumKey, bool, error) {
	k, ok, err := m.Peek()
	if !ok || err != nil {
		return k, ok, err
	}
	for _, c := range m.cursors {
		pk, pok, perr := c.Peek()
		if perr != nil {
			return rumkey.RumKey{}, false, perr
		}
		if pok && pk.IPtr.Compare(k.IPtr) == 0 {
			if _, _, nerr := c.Next(); nerr != nil {
				return rumkey.RumKey{}, false, nerr
			}
		}
	}
	return k, true, nil
}

func joinRumKey(a, b rumkey.RumKey, join func(x, y common.Datum) common.Datum) rumkey.RumKey {
	switch {
	case a.AddInfoIsNull:
		return b
	case b.AddInfoIsNull:
		return a
	case join != nil:
		a.AddInfo = join(a.AddInfo, b.AddInfo)
		return a
	default:
		return a
	}
}
