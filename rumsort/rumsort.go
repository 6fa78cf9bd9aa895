// Package rumsort implements RUM's ORDER BY external sort adapter:
// buffer candidate rows up to work_mem, sort each run in memory, and once
// a scan's rows overflow a single run, spill sorted runs to temporary
// "tape" files (length-prefixed binary records, one file per run) and
// merge them on the way out.
package rumsort

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/rumindex/rum/common"
)

// RumSortItem is one candidate row flowing through the ORDER BY pipeline:
// a matched heap tid, whether it needs a heap recheck, and the per-order-by
// distance(s) computed from Ordering/OuterOrdering.
type RumSortItem struct {
	TID       common.ItemPointer
	Recheck   bool
	Distances []float64
}

// LessFunc orders two RumSortItems; the caller supplies the comparison
// (ascending or descending per order-by column).
type LessFunc func(a, b RumSortItem) bool

const itemOverheadBytes = 24 // tid + recheck + slice header, approximate

func itemApproxSize(it RumSortItem) int64 {
	return int64(itemOverheadBytes + 8*len(it.Distances))
}

func encodeItem(w io.Writer, it RumSortItem) error {
	buf := make([]byte, 4+2+1+2+8*len(it.Distances))
	binary.LittleEndian.PutUint32(buf[0:], it.TID.Block)
	binary.LittleEndian.PutUint16(buf[4:], it.TID.Offset)
	if it.Recheck {
		buf[6] = 1
	}
	binary.LittleEndian.PutUint16(buf[7:], uint16(len(it.Distances)))
	off := 9
	for _, d := range it.Distances {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(d))
		off += 8
	}
	length := make([]byte, 4)
	binary.LittleEndian.PutUint32(length, uint32(len(buf)))
	if _, err := w.Write(length); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func decodeItem(r io.Reader) (RumSortItem, bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return RumSortItem{}, false, nil
		}
		return RumSortItem{}, false, errors.Wrap(err, "rumsort: read record length")
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return RumSortItem{}, false, errors.Wrap(err, "rumsort: read record body")
	}
	if len(buf) < 9 {
		return RumSortItem{}, false, errors.WithStack(common.ErrStructureCorrupt)
	}
	it := RumSortItem{
		TID:     common.ItemPointer{Block: binary.LittleEndian.Uint32(buf[0:]), Offset: binary.LittleEndian.Uint16(buf[4:])},
		Recheck: buf[6] != 0,
	}
	ndist := int(binary.LittleEndian.Uint16(buf[7:]))
	off := 9
	it.Distances = make([]float64, ndist)
	for i := 0; i < ndist; i++ {
		it.Distances[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
	}
	return it, true, nil
}

// Sorter accumulates RumSortItems, spilling sorted runs to disk once the
// in-memory buffer exceeds workMem.
type Sorter struct {
	tmpDir  string
	workMem int64
	less    LessFunc

	buf      []RumSortItem
	bufBytes int64
	tapes    []string
}

// NewSorter constructs a Sorter that spills runs under tmpDir. workMem <= 0
// disables spilling (everything is sorted in one in-memory run).
func NewSorter(tmpDir string, workMem int64, less LessFunc) *Sorter {
	return &Sorter{tmpDir: tmpDir, workMem: workMem, less: less}
}

// Add buffers one row, then spills the current run (including that row)
// once the buffer reaches workMem.
func (s *Sorter) Add(it RumSortItem) error {
	s.buf = append(s.buf, it)
	s.bufBytes += itemApproxSize(it)
	if s.workMem > 0 && s.bufBytes >= s.workMem {
		return s.spill()
	}
	return nil
}

func (s *Sorter) sortBuf() {
	slices.SortFunc(s.buf, func(a, b RumSortItem) int {
		switch {
		case s.less(a, b):
			return -1
		case s.less(b, a):
			return 1
		default:
			return 0
		}
	})
}

func (s *Sorter) spill() error {
	if len(s.buf) == 0 {
		return nil
	}
	s.sortBuf()

	path := filepath.Join(s.tmpDir, "rumsort-"+uuid.NewString()+".tape")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "rumsort: create tape file")
	}
	w := bufio.NewWriter(f)
	for _, it := range s.buf {
		if err := encodeItem(w, it); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "rumsort: flush tape file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "rumsort: close tape file")
	}

	s.tapes = append(s.tapes, path)
	s.buf = nil
	s.bufBytes = 0
	return nil
}

// Finish closes input and returns an iterator over every row in sorted
// order. With no spilled runs it is a plain in-memory sort; otherwise it
// spills whatever remains buffered and opens a merge over every run.
func (s *Sorter) Finish() (*MergeIterator, error) {
	if len(s.tapes) == 0 {
		s.sortBuf()
		items := s.buf
		s.buf = nil
		return &MergeIterator{sliceItems: items}, nil
	}
	if err := s.spill(); err != nil {
		return nil, err
	}
	return openTapeMerge(s.tapes, s.less)
}

// FromSorted wraps a slice the caller has already produced in the target
// order, skipping the sort step entirely. Used by scan/orderby.go's
// natural-order short-circuit: when a scan's own
// occurrence order is already the distance order the caller wants, there
// is nothing left for the external sorter to do.
func FromSorted(items []RumSortItem) *MergeIterator {
	return &MergeIterator{sliceItems: items}
}

type tapeRun struct {
	file *os.File
	r    *bufio.Reader
	head RumSortItem
	ok   bool
}

// MergeIterator yields RumSortItems in sorted order, either from a
// single in-memory slice or by k-way merging spilled tape files. The
// merge itself is a linear scan across open runs rather than a heap: a
// scan rarely produces more than a handful of runs, so the O(runs)
// per-step scan is the same order of magnitude as a heap and a good deal
// less code.
type MergeIterator struct {
	sliceItems []RumSortItem
	slicePos   int

	runs []*tapeRun
	less LessFunc
}

func openTapeMerge(paths []string, less LessFunc) (*MergeIterator, error) {
	m := &MergeIterator{less: less}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			m.Close()
			return nil, errors.Wrap(err, "rumsort: open tape file")
		}
		run := &tapeRun{file: f, r: bufio.NewReader(f)}
		if err := run.advance(); err != nil {
			m.Close()
			return nil, err
		}
		m.runs = append(m.runs, run)
	}
	return m, nil
}

func (r *tapeRun) advance() error {
	it, ok, err := decodeItem(r.r)
	if err != nil {
		return err
	}
	r.head, r.ok = it, ok
	return nil
}

// Next returns the next item in sorted order, or ok=false once exhausted.
func (m *MergeIterator) Next() (RumSortItem, bool, error) {
	if m.sliceItems != nil {
		if m.slicePos >= len(m.sliceItems) {
			return RumSortItem{}, false, nil
		}
		it := m.sliceItems[m.slicePos]
		m.slicePos++
		return it, true, nil
	}

	best := -1
	for i, run := range m.runs {
		if !run.ok {
			continue
		}
		if best == -1 || m.less(run.head, m.runs[best].head) {
			best = i
		}
	}
	if best == -1 {
		return RumSortItem{}, false, nil
	}
	item := m.runs[best].head
	if err := m.runs[best].advance(); err != nil {
		return RumSortItem{}, false, err
	}
	return item, true, nil
}

// Close releases every open tape file and deletes it from disk.
func (m *MergeIterator) Close() error {
	var firstErr error
	for _, run := range m.runs {
		if run.file == nil {
			continue
		}
		path := run.file.Name()
		if err := run.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = os.Remove(path)
	}
	m.runs = nil
	return firstErr
}
