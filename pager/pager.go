// Package pager implements RUM's page cache, WAL and metapage: it owns
// the on-disk index file, turns block IDs into rpage.Pages through a
// bounded LRU (github.com/hashicorp/golang-lru/v2, with an eviction hook
// that flushes dirty pages), and keeps the metapage's counters current
// across build/insert/vacuum.
package pager

import (
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/rumindex/rum/common"
	"github.com/rumindex/rum/rpage"
)

// Pager owns one index file (plus its WAL) and caches decoded pages.
type Pager struct {
	mu   sync.RWMutex
	file *os.File
	wal  *WAL

	pageSize int
	cache    *lru.Cache[uint32, *rpage.Page]
	dirty    map[uint32]bool
	meta     *Metapage
	closed   bool

	stats struct {
		pageReads  int64
		pageWrites int64
		cacheHits  int64
	}
}

// Open creates or opens the index file at cfg.DataDir + "/rum.idx", along
// with its WAL, replaying any uncommitted WAL records.
func Open(cfg common.IndexConfig) (*Pager, error) {
	path := cfg.DataDir + "/rum.idx"
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "pager: open index file")
		}
		return create(cfg, path)
	}
	return load(cfg, file, path)
}

func create(cfg common.IndexConfig, path string) (*Pager, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "pager: create index file")
	}

	p, err := newPagerShell(cfg, file, path)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	p.meta = NewMetapage()

	metaPage := p.meta.Encode(p.pageSize)
	if err := p.writePageAt(MetaBlock, metaPage); err != nil {
		p.Close()
		os.Remove(path)
		return nil, err
	}
	root := rpage.New(RootBlock, p.pageSize, rpage.FlagLeaf)
	if err := p.writePageAt(RootBlock, root); err != nil {
		p.Close()
		os.Remove(path)
		return nil, err
	}
	return p, nil
}

func load(cfg common.IndexConfig, file *os.File, path string) (*Pager, error) {
	p, err := newPagerShell(cfg, file, path)
	if err != nil {
		file.Close()
		return nil, err
	}

	metaPage, err := p.readPageAt(MetaBlock)
	if err != nil {
		p.Close()
		return nil, err
	}
	meta, err := DecodeMetapage(metaPage)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.meta = meta

	if err := p.recoverFromWAL(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newPagerShell(cfg common.IndexConfig, file *os.File, path string) (*Pager, error) {
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = common.DefaultPageSize
	}
	cacheSize := cfg.CacheSize
	if cacheSize == 0 {
		cacheSize = common.DefaultCacheSize
	}

	p := &Pager{
		file:     file,
		pageSize: pageSize,
		dirty:    make(map[uint32]bool),
	}

	cache, err := lru.NewWithEvict(cacheSize, p.onEvict)
	if err != nil {
		return nil, errors.Wrap(err, "pager: create page cache")
	}
	p.cache = cache

	wal, err := openWAL(path + ".wal")
	if err != nil {
		return nil, err
	}
	p.wal = wal

	return p, nil
}

// onEvict flushes a page to disk before the LRU drops it from memory.
func (p *Pager) onEvict(pageID uint32, page *rpage.Page) {
	if p.dirty[pageID] {
		if err := p.writePageAt(pageID, page); err == nil {
			page.SetDirty(false)
			delete(p.dirty, pageID)
		}
	}
}

func (p *Pager) readPageAt(id uint32) (*rpage.Page, error) {
	buf := make([]byte, p.pageSize)
	n, err := p.file.ReadAt(buf, int64(id)*int64(p.pageSize))
	if err != nil {
		return nil, errors.Wrapf(err, "pager: read page %d", id)
	}
	if n != p.pageSize {
		return nil, errors.Wrapf(common.ErrStructureCorrupt, "pager: short read on page %d", id)
	}
	p.stats.pageReads++
	return rpage.Load(id, buf), nil
}

func (p *Pager) writePageAt(id uint32, page *rpage.Page) error {
	if _, err := p.file.WriteAt(page.Data(), int64(id)*int64(p.pageSize)); err != nil {
		return errors.Wrapf(err, "pager: write page %d", id)
	}
	p.stats.pageWrites++
	return nil
}

// GetPage returns the page for id, from cache or disk.
func (p *Pager) GetPage(id uint32) (*rpage.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.WithStack(common.ErrClosed)
	}
	if page, ok := p.cache.Get(id); ok {
		p.stats.cacheHits++
		return page, nil
	}
	page, err := p.readPageAt(id)
	if err != nil {
		return nil, err
	}
	p.cache.Add(id, page)
	return page, nil
}

// NewPage allocates a fresh page with the given flags, bumping the
// metapage's total-page counter.
func (p *Pager) NewPage(flags uint16) (*rpage.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.WithStack(common.ErrClosed)
	}
	id := p.meta.NTotalPages
	p.meta.NTotalPages++
	if flags&rpage.FlagLeaf != 0 && flags&rpage.FlagData == 0 {
		p.meta.NEntryPages++
	} else if flags&rpage.FlagData != 0 {
		p.meta.NDataPages++
	}

	page := rpage.New(id, p.pageSize, flags)
	p.cache.Add(id, page)
	p.dirty[id] = true
	return page, nil
}

// MarkDirty logs the page's full current contents to the WAL (if the page
// is cached) and marks it dirty so Flush writes it back.
func (p *Pager) MarkDirty(id uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if page, ok := p.cache.Peek(id); ok {
		_ = p.wal.LogPageWrite(id, 0, page.Data())
		page.SetDirty(true)
		p.dirty[id] = true
	}
}

// Flush writes every dirty cached page to disk.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

func (p *Pager) flushLocked() error {
	if p.closed {
		return errors.WithStack(common.ErrClosed)
	}
	for id := range p.dirty {
		page, ok := p.cache.Peek(id)
		if !ok {
			continue
		}
		if err := p.writePageAt(id, page); err != nil {
			return err
		}
		page.SetDirty(false)
	}
	p.dirty = make(map[uint32]bool)
	return nil
}

// Sync flushes dirty pages, persists the metapage, and fsyncs the file
// and WAL, then truncates the WAL -- every logged change is now durable
// at its real location.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.flushLocked(); err != nil {
		return err
	}
	metaPage := p.meta.Encode(p.pageSize)
	if err := p.writePageAt(MetaBlock, metaPage); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(err, "pager: fsync index file")
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}
	return p.wal.Truncate()
}

// Meta returns a copy of the current metapage counters.
func (p *Pager) Meta() Metapage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.meta
}

// UpdateMeta applies fn to the metapage under lock; callers use this to
// bump NEntries/BuildIndexTuples/VacuumPagesDeleted as operations commit.
func (p *Pager) UpdateMeta(fn func(*Metapage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.meta)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// recoverFromWAL replays every WAL record onto the page it touched. It
// reads and patches pages directly, bypassing MarkDirty so recovery
// doesn't re-log itself.
func (p *Pager) recoverFromWAL() error {
	records, err := p.wal.ReadAll()
	if err != nil {
		return errors.Wrap(err, "pager: read WAL for recovery")
	}
	if len(records) == 0 {
		return nil
	}

	for _, r := range records {
		if r.Type != recordPageWrite {
			continue
		}
		page, ok := p.cache.Peek(r.PageID)
		if !ok {
			loaded, err := p.readPageAt(r.PageID)
			if err != nil {
				loaded = rpage.New(r.PageID, p.pageSize, 0)
			}
			page = loaded
			p.cache.Add(r.PageID, page)
		}
		end := r.Offset + r.Length
		if int(end) <= len(page.Data()) {
			copy(page.Data()[r.Offset:end], r.Data)
			page.SetDirty(true)
			p.dirty[r.PageID] = true
		}
	}
	return p.flushLocked()
}

// Close flushes dirty pages, persists metadata, and closes the file and WAL.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	if err := p.flushLocked(); err != nil {
		return err
	}
	metaPage := p.meta.Encode(p.pageSize)
	if err := p.writePageAt(MetaBlock, metaPage); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(err, "pager: fsync on close")
	}
	if err := p.file.Close(); err != nil {
		return errors.Wrap(err, "pager: close index file")
	}
	if err := p.wal.Close(); err != nil {
		return err
	}
	p.closed = true
	return nil
}
