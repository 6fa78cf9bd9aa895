package latch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadLatchesAreShared(t *testing.T) {
	m := NewManager()
	l := m.Get(1)
	l.Lock(Read)
	require.True(t, l.TryLock(Read))
	l.Unlock(Read)
	l.Unlock(Read)
}

func TestWriteLatchExcludesReaders(t *testing.T) {
	m := NewManager()
	l := m.Get(1)
	l.Lock(Write)
	require.False(t, l.TryLock(Read))
	l.Unlock(Write)
}

func TestCouplingReleaseParentKeepsOnlyLast(t *testing.T) {
	m := NewManager()
	c := NewCoupling(m)
	c.Acquire(1, Write)
	c.Acquire(2, Write)
	c.ReleaseParent()

	require.True(t, m.Get(1).TryLock(Write))
	m.Get(1).Unlock(Write)
	require.False(t, m.Get(2).TryLock(Write))
	c.ReleaseAll()
	require.True(t, m.Get(2).TryLock(Write))
	m.Get(2).Unlock(Write)
}

func TestAcquireCleanupSetLocksAllDistinctIDs(t *testing.T) {
	m := NewManager()
	c := NewCoupling(m)
	const invalid = ^uint32(0)
	c.AcquireCleanupSet(5, 3, 7, 1, invalid)

	for _, id := range []uint32{1, 3, 5, 7} {
		require.False(t, m.Get(id).TryLock(Read), "page %d should be exclusively locked", id)
	}
	c.ReleaseAll()
	for _, id := range []uint32{1, 3, 5, 7} {
		require.True(t, m.Get(id).TryLock(Read))
		m.Get(id).Unlock(Read)
	}
}

func TestAcquireCleanupSetSkipsInvalidAndDuplicateIDs(t *testing.T) {
	m := NewManager()
	c := NewCoupling(m)
	const invalid = ^uint32(0)
	c.AcquireCleanupSet(5, invalid, 5, 5, invalid)
	require.Len(t, c.pages, 1)
	c.ReleaseAll()
}

func TestConcurrentCouplingDoesNotDeadlock(t *testing.T) {
	m := NewManager()
	const invalid = ^uint32(0)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewCoupling(m)
			c.AcquireCleanupSet(uint32(i%3), uint32((i+1)%3), uint32((i+2)%3), uint32(i%3), invalid)
			c.ReleaseAll()
		}(i)
	}
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock detected")
	}
}
