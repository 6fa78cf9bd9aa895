// Package latch implements RUM's page-level locking: a read-write latch
// per page plus latch coupling for tree descent, and the cleanup-lock
// protocol a posting-tree leaf deletion requires -- exclusive access to
// the page itself and to its left sibling, right sibling and parent.
package latch

import "sync"

// Mode selects shared or exclusive access. Cleanup is exclusive access
// used specifically for the page-deletion protocol; it is
// semantically identical to Write but kept distinct so callers (and
// readers of a stack trace) can tell a deletion attempt from an ordinary
// structural write.
type Mode int

const (
	Read Mode = iota
	Write
	Cleanup
)

func (m Mode) exclusive() bool { return m != Read }

// PageLatch is a single page's read-write lock.
type PageLatch struct {
	mu sync.RWMutex
}

func (l *PageLatch) Lock(mode Mode) {
	if mode.exclusive() {
		l.mu.Lock()
	} else {
		l.mu.RLock()
	}
}

func (l *PageLatch) Unlock(mode Mode) {
	if mode.exclusive() {
		l.mu.Unlock()
	} else {
		l.mu.RUnlock()
	}
}

func (l *PageLatch) TryLock(mode Mode) bool {
	if mode.exclusive() {
		return l.mu.TryLock()
	}
	return l.mu.TryRLock()
}

// Manager hands out the PageLatch for a given block, creating it on first
// use. Latches are never removed -- a deleted page's latch simply goes
// unused: a deleted page preserves its leftlink/rightlink fields so
// concurrent scans complete.
type Manager struct {
	mu      sync.Mutex
	latches map[uint32]*PageLatch
}

func NewManager() *Manager {
	return &Manager{latches: make(map[uint32]*PageLatch)}
}

func (m *Manager) Get(pageID uint32) *PageLatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.latches[pageID]
	if !ok {
		l = &PageLatch{}
		m.latches[pageID] = l
	}
	return l
}

// Coupling implements lock-coupling descent: acquire the
// child's latch before releasing the parent's, so a concurrent writer
// never observes a gap in coverage.
type Coupling struct {
	m     *Manager
	pages []uint32
	modes []Mode
}

func NewCoupling(m *Manager) *Coupling {
	return &Coupling{m: m, pages: make([]uint32, 0, 4), modes: make([]Mode, 0, 4)}
}

// Acquire locks pageID in mode and tracks it for later release.
func (c *Coupling) Acquire(pageID uint32, mode Mode) {
	c.m.Get(pageID).Lock(mode)
	c.pages = append(c.pages, pageID)
	c.modes = append(c.modes, mode)
}

// ReleaseParent drops every held latch except the most recently acquired
// one, keeping only the current page latched while descending.
func (c *Coupling) ReleaseParent() {
	if len(c.pages) < 2 {
		return
	}
	for i := 0; i < len(c.pages)-1; i++ {
		c.m.Get(c.pages[i]).Unlock(c.modes[i])
	}
	last := len(c.pages) - 1
	c.pages = []uint32{c.pages[last]}
	c.modes = []Mode{c.modes[last]}
}

// ReleaseAll drops every latch still held, in reverse acquisition order.
func (c *Coupling) ReleaseAll() {
	for i := len(c.pages) - 1; i >= 0; i-- {
		c.m.Get(c.pages[i]).Unlock(c.modes[i])
	}
	c.pages = c.pages[:0]
	c.modes = c.modes[:0]
}

// AcquireCleanupSet locks page, its left and right siblings (either may be
// rpage.InvalidBlock, meaning "no sibling", in which case it is skipped),
// and parent, all exclusively, in ascending block-ID order -- a fixed
// global order across every caller, so no two deletions can deadlock by
// acquiring the same set in opposite directions. Deletion only requires
// that all four be held, not a specific order; ascending-by-ID is the
// simplest deadlock-free choice.
func (c *Coupling) AcquireCleanupSet(page, left, right, parent uint32, invalid uint32) {
	ids := make([]uint32, 0, 4)
	seen := make(map[uint32]bool, 4)
	for _, id := range []uint32{page, left, right, parent} {
		if id == invalid || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sortUint32s(ids)
	for _, id := range ids {
		c.Acquire(id, Cleanup)
	}
}

func sortUint32s(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
