package pager

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/dustin/go-humanize"

	"github.com/JEleniel/epiloglite/internal/cint"
	"github.com/JEleniel/epiloglite/internal/clock"
	"github.com/JEleniel/epiloglite/internal/config"
	"github.com/JEleniel/epiloglite/internal/pager/wal"
)

// ErrCacheEvictionFailed is returned when every cached page is pinned and no
// clean page can be evicted, even after a forced flush (spec.md §4.5 step 3).
var ErrCacheEvictionFailed = errors.New("pager: cache eviction failed, all pages pinned")

// availableRAMBytes is the assumed available-RAM budget used to cap
// max_pages when the caller doesn't name an explicit limit (spec.md §4.5
// "20% of available RAM"). A fixed estimate stands in for a real
// /proc/meminfo read, which would vary by platform and isn't worth the
// portability cost for a budget that's advisory in the first place.
const availableRAMBytes = 4 << 30 // 4 GiB

type cacheEntry struct {
	page         *Page
	lastAccessed int64
	pinned       bool
}

// Pager wraps a BackingStore with a bounded LRU buffer cache (spec.md §4.5).
type Pager struct {
	mu    sync.Mutex
	store BackingStore
	clock clock.Clock

	maxPages int
	cache    map[uint64]*cacheEntry

	mode      config.JournalMode
	walWriter *wal.Writer

	debouncedFlush func(func())
}

// NewPager computes max_pages = min(suggestedMaxPages, 20% of available RAM
// / page_size) and wraps store with a fresh, empty cache.
func NewPager(store BackingStore, suggestedMaxPages int, clk clock.Clock) *Pager {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	pageSize := store.Header().PageSize()
	ramBudget := int((availableRAMBytes / 5) / uint64(pageSize)) // 20%
	maxPages := ramBudget
	if suggestedMaxPages > 0 && suggestedMaxPages < ramBudget {
		maxPages = suggestedMaxPages
	}
	log.Printf("pager: max_pages=%d (%s budget, %s pages)", maxPages,
		humanize.Bytes(uint64(maxPages*pageSize)), humanize.Comma(int64(maxPages)))

	return &Pager{
		store:          store,
		clock:          clk,
		maxPages:       maxPages,
		cache:          make(map[uint64]*cacheEntry),
		mode:           config.JournalModeRollback,
		debouncedFlush: debounce.New(100 * time.Millisecond),
	}
}

func ordinalOf(id cint.CInt) (uint64, error) { return id.Uint64() }

// GetPage returns the page at id, loading it from the backing store on a
// cache miss and evicting if the cache is full.
func (p *Pager) GetPage(id cint.CInt) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ord, err := ordinalOf(id)
	if err != nil {
		return nil, err
	}
	if entry, ok := p.cache[ord]; ok {
		entry.lastAccessed = p.clock.Now()
		return entry.page, nil
	}

	if len(p.cache) >= p.maxPages {
		if err := p.evictLocked(); err != nil {
			return nil, err
		}
	}

	page, err := p.store.ReadPage(id)
	if err != nil {
		return nil, err
	}
	p.cache[ord] = &cacheEntry{page: page, lastAccessed: p.clock.Now()}
	return page, nil
}

// Allocate asks the backing store for a fresh page id, inserts a new page
// for containerID into the cache, and returns its id.
func (p *Pager) Allocate(containerID cint.CInt) (cint.CInt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.cache) >= p.maxPages {
		if err := p.evictLocked(); err != nil {
			if !p.allCleanLocked() {
				// Eviction's synchronous forced flush left dirty pages
				// behind; schedule one coalesced background retry flush
				// rather than issuing one per failing caller.
				p.debouncedFlush(func() {
					if ferr := p.Flush(); ferr != nil {
						log.Printf("pager: background flush failed: %v", ferr)
					}
				})
			}
			return cint.CInt{}, err
		}
	}

	id, err := p.store.AllocatePage()
	if err != nil {
		return cint.CInt{}, err
	}
	pageSize := p.store.Header().PageSize()
	page := NewPage(id, containerID, pageSize, PageFlagDirty)
	ord, err := ordinalOf(id)
	if err != nil {
		return cint.CInt{}, err
	}
	p.cache[ord] = &cacheEntry{page: page, lastAccessed: p.clock.Now()}
	return id, nil
}

func (p *Pager) allCleanLocked() bool {
	for _, e := range p.cache {
		if e.page.IsDirty() {
			return false
		}
	}
	return true
}

// evictLocked implements spec.md §4.5's three-step eviction policy. Caller
// holds p.mu.
func (p *Pager) evictLocked() error {
	if p.tryEvictCleanLocked() {
		return nil
	}
	if err := p.flushLocked(); err != nil {
		return fmt.Errorf("pager: forced flush before eviction: %w", err)
	}
	if p.tryEvictCleanLocked() {
		return nil
	}
	return ErrCacheEvictionFailed
}

// tryEvictCleanLocked drops the least-recently-used unpinned clean page, if
// one exists.
func (p *Pager) tryEvictCleanLocked() bool {
	var victim uint64
	var oldest int64
	found := false
	for ord, e := range p.cache {
		if e.pinned || e.page.IsDirty() {
			continue
		}
		if !found || e.lastAccessed < oldest {
			victim, oldest = ord, e.lastAccessed
			found = true
		}
	}
	if !found {
		return false
	}
	delete(p.cache, victim)
	return true
}

// Pin marks a cached page as ineligible for eviction — used while a
// transaction holds a live reference to it. Pin is a no-op if the page
// isn't currently cached.
func (p *Pager) Pin(id cint.CInt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ord, err := ordinalOf(id)
	if err != nil {
		return
	}
	if e, ok := p.cache[ord]; ok {
		e.pinned = true
	}
}

// Unpin clears a page's pin, making it eligible for eviction again.
func (p *Pager) Unpin(id cint.CInt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ord, err := ordinalOf(id)
	if err != nil {
		return
	}
	if e, ok := p.cache[ord]; ok {
		e.pinned = false
	}
}

// Flush writes every Dirty cached page back via the backing store and
// clears the Dirty flag, then flushes the store itself.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

// flushLocked writes every dirty cached page back. In WAL mode, dirty pages
// are appended as frames to the pager's in-memory WAL writer and committed
// together instead of being written straight to the store — Checkpoint is
// what eventually drains them into the backing store.
func (p *Pager) flushLocked() error {
	dirty := false
	for _, e := range p.cache {
		if !e.page.IsDirty() {
			continue
		}
		dirty = true
		if p.mode == config.JournalModeWAL && p.walWriter != nil {
			ord, err := ordinalOf(e.page.PageID)
			if err != nil {
				return err
			}
			data, err := e.page.MarshalBinary()
			if err != nil {
				return fmt.Errorf("pager: marshal page %s: %w", e.page.PageID, err)
			}
			if err := p.walWriter.AddFrame(uint32(ord), data); err != nil {
				return fmt.Errorf("pager: wal append page %s: %w", e.page.PageID, err)
			}
		} else if err := p.store.WritePage(e.page); err != nil {
			return fmt.Errorf("pager: flush page %s: %w", e.page.PageID, err)
		}
		e.page.SetClean()
	}
	if p.mode == config.JournalModeWAL && p.walWriter != nil && dirty {
		if err := p.walWriter.Commit(uint32(p.store.TotalPages())); err != nil {
			return fmt.Errorf("pager: wal commit: %w", err)
		}
	}
	return p.store.Flush()
}

// SetJournalMode switches between Rollback and WAL durability. Switching is
// idempotent and invalidates any in-flight transaction by forcing a flush
// first (spec.md §4.5). Entering WAL mode lazily creates the pager's WAL
// writer at the store's page size.
func (p *Pager) SetJournalMode(mode config.JournalMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == mode {
		return nil
	}
	if err := p.flushLocked(); err != nil {
		return fmt.Errorf("pager: flush before journal mode switch: %w", err)
	}
	p.mode = mode
	if mode == config.JournalModeWAL && p.walWriter == nil {
		p.walWriter = wal.NewWriter(uint32(p.store.Header().PageSize()), nil)
	}
	return nil
}

// JournalMode reports the pager's current durability mode.
func (p *Pager) JournalMode() config.JournalMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Checkpoint drains every committed frame out of the pager's WAL writer,
// writes the resulting page updates to the backing store, and, when the
// checkpoint reports Completed, resets the WAL for the next round of
// transactions. It is a no-op outside WAL mode or when the WAL is empty.
func (p *Pager) Checkpoint(mode wal.Mode) (wal.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != config.JournalModeWAL || p.walWriter == nil || len(p.walWriter.Frames()) == 0 {
		return wal.Result{}, nil
	}

	r, err := wal.FromBytes(p.walWriter.Bytes())
	if err != nil {
		return wal.Result{}, fmt.Errorf("pager: parse wal for checkpoint: %w", err)
	}
	cp := wal.NewCheckpointer(p.walWriter.Header().PageSize)
	updates, result := cp.Checkpoint(r, mode)

	pageSize := p.store.Header().PageSize()
	for _, u := range updates {
		page, err := UnmarshalPage(u.Data, pageSize)
		if err != nil {
			return result, fmt.Errorf("pager: decode checkpointed page %d: %w", u.PageNumber, err)
		}
		if err := p.store.WritePage(page); err != nil {
			return result, fmt.Errorf("pager: write checkpointed page %d: %w", u.PageNumber, err)
		}
	}
	if result.Completed {
		p.walWriter.Reset()
	}
	return result, p.store.Flush()
}

// PassiveCheckpointFunc returns a CheckpointFunc that runs a Passive
// checkpoint, suitable for driving a Checkpointer on a schedule.
func (p *Pager) PassiveCheckpointFunc() CheckpointFunc {
	return func() error {
		_, err := p.Checkpoint(wal.ModePassive)
		return err
	}
}

// Close flushes and closes the underlying backing store.
func (p *Pager) Close() error {
	if err := p.Flush(); err != nil {
		return err
	}
	return p.store.Close()
}

// CachedPageCount reports how many pages are currently resident, for tests
// and diagnostics.
func (p *Pager) CachedPageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
