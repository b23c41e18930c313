package pager

import (
	"testing"

	"github.com/JEleniel/epiloglite/internal/cint"
)

func TestFreeManager_AllocFreeRoundTrip(t *testing.T) {
	fm := NewFreeManager()
	if _, ok := fm.Alloc(); ok {
		t.Fatal("expected no free pages initially")
	}

	fm.Free(cint.FromUint64(7))
	fm.Free(cint.FromUint64(3))
	fm.Free(cint.FromUint64(5))

	if fm.Count() != 3 {
		t.Fatalf("count = %d, want 3", fm.Count())
	}

	all := fm.AllFree()
	if len(all) != 3 {
		t.Fatalf("len(AllFree()) = %d, want 3", len(all))
	}
	var prev uint64
	for i, c := range all {
		u, err := c.Uint64()
		if err != nil {
			t.Fatal(err)
		}
		if i > 0 && u <= prev {
			t.Fatalf("AllFree() not sorted ascending: %v", all)
		}
		prev = u
	}

	id, ok := fm.Alloc()
	if !ok {
		t.Fatal("expected Alloc to succeed")
	}
	if fm.Count() != 2 {
		t.Fatalf("count after Alloc = %d, want 2", fm.Count())
	}
	_ = id
}

func TestFreeListPage_AddEntryAndParse(t *testing.T) {
	fl := InitFreeListPage(cint.FromUint64(10), 256)
	for i := uint64(0); i < 5; i++ {
		ok, err := fl.AddEntry(cint.FromUint64(100 + i))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("AddEntry(%d) unexpectedly full", i)
		}
	}

	entries, err := fl.AllEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("len(entries) = %d, want 5", len(entries))
	}
	for i, e := range entries {
		u, err := e.Uint64()
		if err != nil {
			t.Fatal(err)
		}
		if u != 100+uint64(i) {
			t.Fatalf("entries[%d] = %d, want %d", i, u, 100+i)
		}
	}
}

func TestFreeListPage_FullPageRejectsEntry(t *testing.T) {
	fl := InitFreeListPage(cint.FromUint64(10), 32)
	count := 0
	for {
		ok, err := fl.AddEntry(cint.FromUint64(uint64(count)))
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		count++
		if count > 1000 {
			t.Fatal("never filled up")
		}
	}
	if count == 0 {
		t.Fatal("expected at least one entry to fit before filling up")
	}
}

func TestFreeManager_FlushAndLoadRoundTrip(t *testing.T) {
	fm := NewFreeManager()
	want := []uint64{2, 9, 40, 41, 1000}
	for _, u := range want {
		fm.Free(cint.FromUint64(u))
	}

	pages := map[uint64]*Page{}
	var nextID uint64 = 50
	alloc := func() (cint.CInt, error) {
		id := cint.FromUint64(nextID)
		nextID++
		return id, nil
	}

	head, flushed, err := fm.FlushToDisk(64, alloc)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range flushed {
		ord, err := p.PageID.Uint64()
		if err != nil {
			t.Fatal(err)
		}
		pages[ord] = p
	}

	readPage := func(id cint.CInt) (*Page, error) {
		ord, err := id.Uint64()
		if err != nil {
			return nil, err
		}
		p, ok := pages[ord]
		if !ok {
			t.Fatalf("readPage: no such page %d", ord)
		}
		return p, nil
	}

	loaded := NewFreeManager()
	if err := loaded.LoadFromDisk(head, readPage); err != nil {
		t.Fatal(err)
	}
	if loaded.Count() != len(want) {
		t.Fatalf("loaded.Count() = %d, want %d", loaded.Count(), len(want))
	}
	got := loaded.AllFree()
	if len(got) != len(want) {
		t.Fatalf("len(AllFree()) = %d, want %d", len(got), len(want))
	}
	for i, c := range got {
		u, err := c.Uint64()
		if err != nil {
			t.Fatal(err)
		}
		if u != want[i] {
			t.Fatalf("AllFree()[%d] = %d, want %d", i, u, want[i])
		}
	}
}

func TestFreeManager_FlushEmptyReturnsZeroHead(t *testing.T) {
	fm := NewFreeManager()
	head, pages, err := fm.FlushToDisk(256, func() (cint.CInt, error) { return cint.CInt{}, nil })
	if err != nil {
		t.Fatal(err)
	}
	if pages != nil {
		t.Fatalf("expected no pages, got %d", len(pages))
	}
	u, err := head.Uint64()
	if err != nil {
		t.Fatal(err)
	}
	if u != 0 {
		t.Fatalf("head = %d, want 0", u)
	}
}
