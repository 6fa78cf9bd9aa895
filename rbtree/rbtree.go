// Package rbtree implements the build-time accumulator: a red-black tree
// keyed by (attnum, key, category) whose nodes hold the growing list of
// occurrences seen for that key during a bulk build. The entry-key order
// is opclass-defined (Datum comparison is a callback, not `<`), so the
// tree takes a CompareKey function instead of a type parameter. Nodes are
// allocated from fixed-size bump chunks rather than one-by-one, so
// pointers stay stable for the tree's lifetime without per-node heap
// churn.
package rbtree

import (
	"sort"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rumkey"
)

// EntryKey identifies one accumulated entry-tree key.
type EntryKey struct {
	Attnum   uint16
	Category common.NullCategory
	Key      common.Datum
}

// CompareKey compares two NORM_KEY datums sharing attnum, supplied by the
// opclass vtable. attnum lets one CompareKey dispatch across a
// multi-column index's distinct opclasses.
type CompareKey func(attnum uint16, a, b common.Datum) int

func compareEntryKey(a, b EntryKey, cmp CompareKey) int {
	if a.Attnum != b.Attnum {
		if a.Attnum < b.Attnum {
			return -1
		}
		return 1
	}
	if a.Category != b.Category {
		if a.Category.Less(b.Category) {
			return -1
		}
		return 1
	}
	if a.Category == common.CategoryNorm {
		return cmp(a.Attnum, a.Key, b.Key)
	}
	return 0
}

// Group is the accumulated payload for one EntryKey.
type Group struct {
	Key        EntryKey
	Occs       []rumkey.RumKey
	shouldSort bool
}

const initialOccsCap = 5

type color bool

const (
	black color = false
	red   color = true
)

type node struct {
	parent, left, right *node
	color                color
	group                Group
}

func (n *node) getColor() color {
	if n == nil {
		return black
	}
	return n.color
}

const chunkSize = 2048

// allocator hands out *node values from fixed-capacity arrays so pointers
// into it never move for the tree's lifetime.
type allocator struct {
	chunks []*[chunkSize]node
	used   int
}

func (a *allocator) new() *node {
	if len(a.chunks) == 0 || a.used == chunkSize {
		a.chunks = append(a.chunks, new([chunkSize]node))
		a.used = 0
	}
	n := &a.chunks[len(a.chunks)-1][a.used]
	a.used++
	return n
}

// Tree is the build-time accumulator. It is not safe for concurrent use;
// bulk build runs it single-threaded per worker.
type Tree struct {
	Cmp      CompareKey
	AltOrder bool

	root    *node
	alloc   allocator
	nGroups int
	nOccs   int64
}

// NewTree constructs an empty accumulator. altOrder selects whether Drain
// sorts each group's occurrences by the alt-order RumKey comparator
// (addInfo-first) instead of plain ItemPointer order.
func NewTree(cmp CompareKey, altOrder bool) *Tree {
	return &Tree{Cmp: cmp, AltOrder: altOrder}
}

// Insert records one occurrence under key, allocating a new node (and a
// fresh Group) the first time key is seen, or appending to the existing
// group otherwise. For natural-order
// trees, an occurrence appended out of ItemPointer order marks the group
// shouldSort so Drain knows to re-sort it.
func (t *Tree) Insert(key EntryKey, occ rumkey.RumKey) {
	n, created := t.findOrCreate(key)
	g := &n.group
	if created {
		g.Occs = make([]rumkey.RumKey, 0, initialOccsCap)
	}
	if !t.AltOrder && len(g.Occs) > 0 {
		last := g.Occs[len(g.Occs)-1]
		if occ.IPtr.Compare(last.IPtr) <= 0 {
			g.shouldSort = true
		}
	}
	g.Occs = append(g.Occs, occ)
	t.nOccs++
}

func (t *Tree) findOrCreate(key EntryKey) (*node, bool) {
	if t.root == nil {
		n := t.alloc.new()
		n.group.Key = key
		n.color = black
		t.root = n
		t.nGroups++
		return n, true
	}

	cur := t.root
	var parent *node
	var dir int
	for cur != nil {
		c := compareEntryKey(key, cur.group.Key, t.Cmp)
		if c == 0 {
			return cur, false
		}
		parent = cur
		if c < 0 {
			dir = -1
			cur = cur.left
		} else {
			dir = 1
			cur = cur.right
		}
	}

	n := t.alloc.new()
	n.group.Key = key
	n.color = red
	n.parent = parent
	if dir < 0 {
		parent.left = n
	} else {
		parent.right = n
	}
	t.nGroups++
	t.insertFixup(n)
	return n, true
}

func (t *Tree) parentChild(n *node) **node {
	switch {
	case n.parent == nil:
		return &t.root
	case n.parent.left == n:
		return &n.parent.left
	default:
		return &n.parent.right
	}
}

func (t *Tree) leftRotate(x *node) {
	p := x.parent
	pChild := t.parentChild(x)
	y := x.right
	b := y.left

	y.parent = p
	*pChild = y

	x.parent = y
	y.left = x

	if b != nil {
		b.parent = x
	}
	x.right = b
}

func (t *Tree) rightRotate(y *node) {
	p := y.parent
	pChild := t.parentChild(y)
	x := y.left
	b := x.right

	x.parent = p
	*pChild = x

	y.parent = x
	x.right = y

	if b != nil {
		b.parent = y
	}
	y.left = b
}

func (t *Tree) insertFixup(n *node) {
	for n.parent.getColor() == red {
		gp := n.parent.parent
		if n.parent == gp.left {
			uncle := gp.right
			if uncle.getColor() == red {
				n.parent.color = black
				uncle.color = black
				gp.color = red
				n = gp
			} else {
				if n == n.parent.right {
					n = n.parent
					t.leftRotate(n)
				}
				n.parent.color = black
				n.parent.parent.color = red
				t.rightRotate(n.parent.parent)
			}
		} else {
			uncle := gp.left
			if uncle.getColor() == red {
				n.parent.color = black
				uncle.color = black
				gp.color = red
				n = gp
			} else {
				if n == n.parent.left {
					n = n.parent
					t.rightRotate(n)
				}
				n.parent.color = black
				n.parent.parent.color = red
				t.leftRotate(n.parent.parent)
			}
		}
	}
	t.root.color = black
}

// NGroups returns the number of distinct keys currently accumulated.
func (t *Tree) NGroups() int { return t.nGroups }

// MemEstimate gives a rough byte count of accumulated state, for the
// build-memory-budget check that decides when to drain. It is a
// heuristic, not an exact accounting.
func (t *Tree) MemEstimate() int64 {
	const nodeOverhead = 64
	const occSize = 40
	return int64(t.nGroups)*nodeOverhead + t.nOccs*occSize
}

// Drain walks the tree left-to-right, sorts each group's occurrences as
// needed (by ItemPointer, or by the alt-order comparator when the tree is
// alt-order), and resets the accumulator to empty. cmpAddInfo is required
// when the tree is alt-order.
func (t *Tree) Drain(cmpAddInfo rumkey.CompareAddInfo) []*Group {
	groups := make([]*Group, 0, t.nGroups)
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		walk(n.left)
		groups = append(groups, &n.group)
		walk(n.right)
	}
	walk(t.root)

	for _, g := range groups {
		if t.AltOrder {
			sort.Slice(g.Occs, func(i, j int) bool {
				return rumkey.Compare(g.Occs[i], g.Occs[j], true, cmpAddInfo, rumkey.Forward) < 0
			})
		} else if g.shouldSort {
			sort.Slice(g.Occs, func(i, j int) bool {
				return g.Occs[i].IPtr.Compare(g.Occs[j].IPtr) < 0
			})
		}
	}

	t.root = nil
	t.alloc = allocator{}
	t.nGroups = 0
	t.nOccs = 0
	return groups
}

// InsertionOrder returns a permutation of [0,n) for visiting n
// pre-sorted items in a near-balanced insertion order: normalise n to the
// next power of two, then insert at step-1, step+step-1,... for a halving
// step. Callers feeding a pre-sorted batch of entries into Insert use
// this to avoid degrading the fixup path under sorted input.
func InsertionOrder(n int) []int {
	if n <= 0 {
		return nil
	}
	size := 1
	for size < n {
		size <<= 1
	}
	seen := make([]bool, size)
	order := make([]int, 0, n)
	for step := size; step >= 1; step >>= 1 {
		for i := step - 1; i < size; i += step {
			if seen[i] {
				continue
			}
			seen[i] = true
			if i < n {
				order = append(order, i)
			}
		}
	}
	return order
}
