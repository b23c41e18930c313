package pager

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// maxUint64Big is the boundary between the low and high halves of the
// memory store's ordinal space.
var maxUint64Big = new(big.Int).SetUint64(^uint64(0))

// MemoryBackingStore is an in-memory BackingStore for tests and for
// transient/scratch databases. A page ordinal is in principle a CInt up to
// 128 bits (spec.md §3), so pages are sharded across two maps — a
// uint64-keyed "low half" for the ordinals every real workload uses, and a
// decimal-string-keyed "high half" for anything beyond — approximating the
// low/high split called for without requiring a dense 2^128 array.
type MemoryBackingStore struct {
	mu sync.Mutex

	opts   OpenOptions
	header DatabaseHeader

	low  map[uint64]*Page
	high map[string]*Page

	totalPages uint64
	free       *FreeManager

	journal []JournalEntry
	opened  bool
}

// NewMemoryBackingStore returns an unopened in-memory store.
func NewMemoryBackingStore(opts OpenOptions) *MemoryBackingStore {
	return &MemoryBackingStore{
		opts: opts,
		low:  map[uint64]*Page{},
		high: map[string]*Page{},
		free: NewFreeManager(),
	}
}

// shardKey splits id into (lowOrdinal, highKey, usesHigh).
func shardKey(id cint.CInt) (uint64, string, bool, error) {
	v, err := id.ToBig()
	if err != nil {
		return 0, "", false, err
	}
	if v.Cmp(maxUint64Big) <= 0 {
		return v.Uint64(), "", false, nil
	}
	return 0, v.String(), true, nil
}

// Open implements BackingStore: it builds a fresh in-memory header and
// reserves ordinals 0 and 1 (no page objects are stored for them), matching
// the file store's reserved-header-pages convention so callers can treat
// both implementations uniformly. It fails with ErrFileNotFound when create
// is false and the store holds no pages.
func (s *MemoryBackingStore) Open(create bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	if !create && len(s.low) == 0 {
		return fmt.Errorf("%w: in-memory store has no data to open", ErrFileNotFound)
	}

	exp := s.opts.PageSizeExponent
	if exp == 0 {
		exp = 12
	}
	s.header = NewHeader(exp)
	if s.opts.ApplicationID.Len() > 0 {
		s.header.ApplicationID = s.opts.ApplicationID
	}
	if s.opts.MigrationVersion.Len() > 0 {
		s.header.MigrationVersion = s.opts.MigrationVersion
	}
	s.totalPages = reservedHeaderPages
	s.opened = true
	return nil
}

func (s *MemoryBackingStore) pageSize() int { return s.header.PageSize() }

func (s *MemoryBackingStore) getLocked(id cint.CInt) (*Page, bool, error) {
	lo, hi, useHigh, err := shardKey(id)
	if err != nil {
		return nil, false, err
	}
	if useHigh {
		p, ok := s.high[hi]
		return p, ok, nil
	}
	p, ok := s.low[lo]
	return p, ok, nil
}

func (s *MemoryBackingStore) setLocked(id cint.CInt, p *Page) error {
	lo, hi, useHigh, err := shardKey(id)
	if err != nil {
		return err
	}
	if useHigh {
		s.high[hi] = p
	} else {
		s.low[lo] = p
	}
	return nil
}

// ReadPage implements BackingStore.
func (s *MemoryBackingStore) ReadPage(id cint.CInt) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, id)
	}
	return p, nil
}

// WritePage implements BackingStore, enforcing the same container-id
// overwrite rule as the file store.
func (s *MemoryBackingStore) WritePage(p *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok, err := s.getLocked(p.PageID); err == nil && ok {
		if !existing.Flags.Has(PageFlagFree) && !existing.ContainerID.Equal(p.ContainerID) {
			return fmt.Errorf("%w: page %s has container %s, got %s", ErrTableIDMismatch, p.PageID, existing.ContainerID, p.ContainerID)
		}
	}
	if err := s.setLocked(p.PageID, p); err != nil {
		return err
	}
	ordinal, err := p.PageID.Uint64()
	if err == nil && ordinal >= s.totalPages {
		s.totalPages = ordinal + 1
	}
	return nil
}

// AllocatePage implements BackingStore.
func (s *MemoryBackingStore) AllocatePage() (cint.CInt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateLocked()
}

func (s *MemoryBackingStore) allocateLocked() (cint.CInt, error) {
	if id, ok := s.free.Alloc(); ok {
		return id, nil
	}
	id := cint.FromUint64(s.totalPages)
	p, err := NewFreePage(id, s.pageSize())
	if err != nil {
		return cint.CInt{}, err
	}
	if err := s.setLocked(id, p); err != nil {
		return cint.CInt{}, err
	}
	s.totalPages++
	return id, nil
}

// FreePage implements BackingStore.
func (s *MemoryBackingStore) FreePage(id cint.CInt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := NewFreePage(id, s.pageSize())
	if err != nil {
		return err
	}
	if err := s.setLocked(id, p); err != nil {
		return err
	}
	s.free.Free(id)
	return nil
}

// WriteJournalEntry implements BackingStore.
func (s *MemoryBackingStore) WriteJournalEntry(entry JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, entry)
	return nil
}

// Journal returns every journal entry written so far, for test assertions.
func (s *MemoryBackingStore) Journal() []JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JournalEntry, len(s.journal))
	copy(out, s.journal)
	return out
}

// Flush implements BackingStore: a no-op beyond flushing the freelist,
// since writes are already visible in memory.
func (s *MemoryBackingStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, pages, err := s.free.FlushToDisk(s.pageSize(), s.allocateLocked)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if err := s.setLocked(p.PageID, p); err != nil {
			return err
		}
	}
	headOrdinal, err := head.Uint64()
	if err != nil {
		return err
	}
	s.header.FreelistPageID = headOrdinal
	if headOrdinal != 0 {
		s.header.FreelistOffset = 0
	} else {
		s.header.FreelistOffset = MaxHeaderSize
	}
	return nil
}

// Close implements BackingStore.
func (s *MemoryBackingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
	return nil
}

// TotalPages implements BackingStore.
func (s *MemoryBackingStore) TotalPages() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalPages
}

// FreePages implements BackingStore.
func (s *MemoryBackingStore) FreePages() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.free.Count())
}

// Header implements BackingStore.
func (s *MemoryBackingStore) Header() DatabaseHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}
