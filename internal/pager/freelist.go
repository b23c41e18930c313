package pager

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// FreeListPage wraps a page in the FreeList container as a flat,
// append-only array of free page ids stored directly in the page's data
// region (no slot index needed — entries are only appended, and AddEntry
// rewrites the whole count-prefixed array), chained via the page header's own
// NextPageID field (spec.md §9 "the freelist is a linked list of page ids
// ... keep the freelist head in the database header").
type FreeListPage struct {
	page *Page
}

// WrapFreeListPage wraps an already-loaded FreeList-container page.
func WrapFreeListPage(p *Page) *FreeListPage { return &FreeListPage{page: p} }

// InitFreeListPage creates a new, empty free-list page.
func InitFreeListPage(pageID cint.CInt, pageSize int) *FreeListPage {
	p := NewPage(pageID, cint.FromUint64(ContainerFreeList), pageSize, PageFlagDirty)
	return &FreeListPage{page: p}
}

// Page returns the underlying page so the caller can marshal/flush it.
func (fl *FreeListPage) Page() *Page { return fl.page }

// NextFreeList returns the next free-list page in the chain (zero ⇒ end).
func (fl *FreeListPage) NextFreeList() cint.CInt { return fl.page.NextPageID }

// SetNextFreeList links this page to the next one in the chain.
func (fl *FreeListPage) SetNextFreeList(id cint.CInt) {
	fl.page.NextPageID = id
	fl.page.SetDirty()
}

// AllEntries parses every free page id currently stored in this page.
func (fl *FreeListPage) AllEntries() ([]cint.CInt, error) {
	data := fl.page.data
	if len(data) == 0 {
		return nil, nil
	}
	count, n, err := cint.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("freelist entry count: %w", err)
	}
	c, err := count.Uint64()
	if err != nil {
		return nil, err
	}
	off := n
	entries := make([]cint.CInt, 0, c)
	for i := uint64(0); i < c; i++ {
		id, n, err := cint.Decode(data[off:])
		if err != nil {
			return nil, fmt.Errorf("freelist entry %d: %w", i, err)
		}
		entries = append(entries, id)
		off += n
	}
	return entries, nil
}

// AddEntry appends a free page id, rewriting the page's entry-count
// prefix. Returns false if there is no room left on this page.
func (fl *FreeListPage) AddEntry(id cint.CInt) (bool, error) {
	entries, err := fl.AllEntries()
	if err != nil {
		return false, err
	}
	entries = append(entries, id)
	buf := cint.FromUint64(uint64(len(entries))).Bytes()
	for _, e := range entries {
		buf = append(buf, e.Bytes()...)
	}
	if len(buf)+fl.page.headerSize()+4 > fl.page.pageSize {
		return false, nil
	}
	fl.page.data = buf
	fl.page.SetDirty()
	return true, nil
}

// ───────────────────────────────────────────────────────────────────────────
// FreeManager — in-memory free-page-id bookkeeping
// ───────────────────────────────────────────────────────────────────────────

// FreeManager tracks free page ids with an in-memory set backed by
// FreeList-container pages on disk. A page ordinal is stored as uint64 —
// the practical ordinal space for both backing stores (see DESIGN.md) —
// even though a CInt can in principle address up to 2^128 pages.
type FreeManager struct {
	free map[uint64]cint.CInt
	head cint.CInt
}

// NewFreeManager returns an empty manager; call LoadFromDisk to populate it.
func NewFreeManager() *FreeManager {
	return &FreeManager{free: map[uint64]cint.CInt{}, head: cint.FromUint64(0)}
}

// LoadFromDisk walks the free-list chain starting at head, populating the
// in-memory set. readPage loads a FreeList-container page by id.
func (fm *FreeManager) LoadFromDisk(head cint.CInt, readPage func(cint.CInt) (*Page, error)) error {
	fm.head = head
	id := head
	for {
		u, err := id.Uint64()
		if err != nil {
			return err
		}
		if u == 0 {
			return nil
		}
		p, err := readPage(id)
		if err != nil {
			return err
		}
		fl := WrapFreeListPage(p)
		entries, err := fl.AllEntries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			eu, err := e.Uint64()
			if err != nil {
				return err
			}
			fm.free[eu] = e
		}
		id = fl.NextFreeList()
	}
}

// Alloc pops an arbitrary free page id, or reports ok=false if none remain.
func (fm *FreeManager) Alloc() (cint.CInt, bool) {
	for k, v := range fm.free {
		delete(fm.free, k)
		return v, true
	}
	return cint.CInt{}, false
}

// Free marks id as available for reuse.
func (fm *FreeManager) Free(id cint.CInt) {
	u, err := id.Uint64()
	if err != nil {
		return
	}
	fm.free[u] = id
}

// Count returns the number of free pages currently tracked.
func (fm *FreeManager) Count() int { return len(fm.free) }

// AllFree returns every free page id, sorted ascending by ordinal,
// projected with github.com/samber/lo. FlushToDisk writes the free-list
// chain in this order.
func (fm *FreeManager) AllFree() []cint.CInt {
	keys := lo.Keys(fm.free)
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return lo.Map(keys, func(k uint64, _ int) cint.CInt { return fm.free[k] })
}

// FlushToDisk serializes the in-memory free set into a chain of
// FreeList-container pages. allocPage mints a fresh page id and the
// caller-chosen page size for a new free-list page. It returns the new
// chain head (zero if the set is empty) and the pages to write.
func (fm *FreeManager) FlushToDisk(pageSize int, allocPage func() (cint.CInt, error)) (cint.CInt, []*Page, error) {
	ids := fm.AllFree()
	if len(ids) == 0 {
		return cint.FromUint64(0), nil, nil
	}

	var pages []*Page
	var head cint.CInt
	var prev *FreeListPage

	i := 0
	for i < len(ids) {
		pid, err := allocPage()
		if err != nil {
			return cint.CInt{}, nil, err
		}
		fl := InitFreeListPage(pid, pageSize)
		for i < len(ids) {
			ok, err := fl.AddEntry(ids[i])
			if err != nil {
				return cint.CInt{}, nil, err
			}
			if !ok {
				break
			}
			i++
		}
		pages = append(pages, fl.Page())
		if prev != nil {
			prev.SetNextFreeList(pid)
		} else {
			head = pid
		}
		prev = fl
	}
	fm.head = head
	return head, pages, nil
}
