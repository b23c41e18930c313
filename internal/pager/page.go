// Package pager implements EpilogLite's on-disk paged storage engine: the
// database header, the typed/slotted page layout, the abstract backing
// store, the bounded buffer cache, and rollback-mode journal entries. The
// Write-Ahead Log lives in the wal subpackage.
package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// Reserved container ids (spec.md §3 "Reserved containers").
const (
	ContainerFreePages  = 0
	ContainerFreeList   = 1
	ContainerMetadata   = 2
	ContainerRowIDIndex = 3
)

// Free-page guard words, installed front and back of a free page's payload.
const (
	FreePageFrontGuard uint32 = 0xDECAFACE
	FreePageBackGuard  uint32 = 0xECAFACED
)

// PageFlags are the header-level flags on a Page.
type PageFlags uint8

const (
	PageFlagNone  PageFlags = 0
	PageFlagFree  PageFlags = 1 << 0
	PageFlagDirty PageFlags = 1 << 1
	PageFlagFull  PageFlags = 1 << 2
)

func (f PageFlags) Has(bit PageFlags) bool { return f&bit != 0 }

// SlotFlags mark the state of one slot-index entry.
type SlotFlags uint8

const (
	SlotFlagActive SlotFlags = 1 << 0
	SlotFlagFree   SlotFlags = 1 << 1
	SlotFlagDirty  SlotFlags = 1 << 2
)

func (f SlotFlags) Has(bit SlotFlags) bool { return f&bit != 0 }

// RecordFlags are carried by individual records, independent of the slot
// that references them; DELETED records are masked out of Entries but their
// slot stays Active until vacuum (spec.md §4.3).
type RecordFlags uint8

const (
	RecordFlagNone    RecordFlags = 0
	RecordFlagDeleted RecordFlags = 1 << 0
	RecordFlagDirty   RecordFlags = 1 << 1
	RecordFlagNew     RecordFlags = 1 << 2
	RecordFlagSynced  RecordFlags = 1 << 3
)

// Record is the polymorphic contract every on-page record type must
// satisfy. Pages store records as type-erased serialized bytes; typing
// re-enters only when a caller-supplied RecordDecoder parses them back.
type Record interface {
	RecordID() cint.CInt
	Flags() RecordFlags
	MarshalBinary() ([]byte, error)
}

// RecordDecoder reconstructs a typed Record from its serialized bytes.
// Callers supply one to Entries/GetRecord because a Page has no static
// knowledge of which record type it holds (spec.md §9 "Polymorphism").
type RecordDecoder func(data []byte) (Record, error)

var (
	ErrPageFull          = errors.New("pager: page full")
	ErrRecordNotFound    = errors.New("pager: record not found")
	ErrInvalidSlot       = errors.New("pager: invalid slot")
	ErrNotADataPage      = errors.New("pager: not a data page")
	ErrFreePageInvariant = errors.New("pager: free page invariant violated")
	ErrCorrupt           = errors.New("pager: page corrupt")
)

// slotEntry is one slot-index record: a logical record-id mapped to a byte
// range within the page's data area.
type slotEntry struct {
	Flags    SlotFlags
	RecordID cint.CInt
	Offset   cint.CInt
	Length   cint.CInt
}

// Page is a fixed-size page: a header, a slot index, a data area, and a
// trailing checksum. The in-memory representation keeps the slot index and
// data area as independently growing slices (mirroring the reference
// implementation) rather than packing them into one shared backing array;
// MarshalBinary is what enforces the page_size bound.
type Page struct {
	PageID      cint.CInt
	ContainerID cint.CInt
	Flags       PageFlags
	NextPageID  cint.CInt

	pageSize int
	slots    []slotEntry
	data     []byte
}

// NewPage creates an empty page of the given size for container/flags.
func NewPage(pageID, containerID cint.CInt, pageSize int, flags PageFlags) *Page {
	return &Page{
		PageID:      pageID,
		ContainerID: containerID,
		Flags:       flags,
		NextPageID:  cint.FromUint64(0),
		pageSize:    pageSize,
	}
}

// headerSize returns the current serialized size of the fixed header
// fields (page_id, container_id, flags, next_page_id, slot_count) — this
// varies because CInt ids are variable length, exactly as in the reference
// implementation.
func (p *Page) headerSize() int {
	slotCount := cint.FromUint64(uint64(len(p.slots)))
	return p.PageID.Len() + p.ContainerID.Len() + 1 + p.NextPageID.Len() + slotCount.Len()
}

// slotIndexSize returns the serialized size of the slot index.
func (p *Page) slotIndexSize() int {
	n := 0
	for _, s := range p.slots {
		n += 1 + s.RecordID.Len() + s.Offset.Len() + s.Length.Len()
	}
	return n
}

// BytesUsed returns header + slot index + data + trailing CRC.
func (p *Page) BytesUsed() int {
	return p.headerSize() + p.slotIndexSize() + len(p.data) + 4
}

// FreeSpace returns the page's remaining capacity.
func (p *Page) FreeSpace() int {
	return p.pageSize - p.BytesUsed()
}

// IsDirty reports whether the Dirty flag is set.
func (p *Page) IsDirty() bool { return p.Flags.Has(PageFlagDirty) }

// SetDirty sets the Dirty flag.
func (p *Page) SetDirty() { p.Flags |= PageFlagDirty }

// SetClean clears the Dirty flag.
func (p *Page) SetClean() { p.Flags &^= PageFlagDirty }

// NewFreePage builds a page with Free|Dirty flags, guard words installed,
// and a zero-filled interior — used when the pager extends the file
// (spec.md §3 "Page" lifecycle, scenario 2).
func NewFreePage(pageID cint.CInt, pageSize int) (*Page, error) {
	p := NewPage(pageID, cint.FromUint64(ContainerFreePages), pageSize, PageFlagFree|PageFlagDirty)
	return p.freePage()
}

// freePage transitions an in-use page back to Free: re-installs the guard
// words, zero-fills the interior, and clears the slot index, returning
// ErrFreePageInvariant if the resulting byte accounting doesn't land
// exactly on page_size (mirrors original_source's FreePageAllocationFailed
// post-condition check — see DESIGN.md).
func (p *Page) freePage() (*Page, error) {
	p.ContainerID = cint.FromUint64(ContainerFreePages)
	p.Flags = PageFlagFree | PageFlagDirty
	p.slots = nil

	fillLen := p.pageSize - p.headerSize() - 4
	if fillLen < 8 {
		return nil, fmt.Errorf("%w: page size %d too small for guards", ErrFreePageInvariant, p.pageSize)
	}
	p.data = make([]byte, fillLen)
	binary.BigEndian.PutUint32(p.data[:4], FreePageFrontGuard)
	binary.BigEndian.PutUint32(p.data[len(p.data)-4:], FreePageBackGuard)

	if p.BytesUsed() != p.pageSize {
		return nil, fmt.Errorf("%w: expected %d bytes used, got %d", ErrFreePageInvariant, p.pageSize, p.BytesUsed())
	}
	return p, nil
}

// IsFreePage reports whether the Free flag is set and both guard words are
// present and intact (spec.md §4.3 "Free-page invariants").
func (p *Page) IsFreePage() bool {
	if !p.Flags.Has(PageFlagFree) {
		return false
	}
	if len(p.data) < 8 {
		return false
	}
	front := binary.BigEndian.Uint32(p.data[:4])
	back := binary.BigEndian.Uint32(p.data[len(p.data)-4:])
	return front == FreePageFrontGuard && back == FreePageBackGuard
}

// WriteRecord serializes entry, reusing any Free slot whose length is
// sufficient, or else appending to the data tail and pushing a new slot.
// Returns ErrPageFull if neither path has room.
func (p *Page) WriteRecord(entry Record) error {
	encoded, err := entry.MarshalBinary()
	if err != nil {
		return fmt.Errorf("pager: marshal record: %w", err)
	}
	size := len(encoded)

	for i := range p.slots {
		s := &p.slots[i]
		if !s.Flags.Has(SlotFlagFree) {
			continue
		}
		slotLen, err := s.Length.Uint64()
		if err != nil {
			return err
		}
		if int(slotLen) < size {
			continue
		}
		offset, err := s.Offset.Uint64()
		if err != nil {
			return err
		}
		copy(p.data[offset:int(offset)+size], encoded)
		s.Length = cint.FromUint64(uint64(size))
		s.RecordID = entry.RecordID()
		s.Flags = SlotFlagActive | SlotFlagDirty
		p.SetDirty()
		return nil
	}

	if p.Flags.Has(PageFlagFull) {
		return ErrPageFull
	}
	// +1 slot flags byte, plus the new slot's own CInt fields, must also fit.
	newSlotID := cint.FromUint64(uint64(len(p.data)))
	newSlotLen := cint.FromUint64(uint64(size))
	slotCost := 1 + entry.RecordID().Len() + newSlotID.Len() + newSlotLen.Len()
	if p.FreeSpace() < size+slotCost {
		p.Flags |= PageFlagFull
		return ErrPageFull
	}

	offset := len(p.data)
	p.data = append(p.data, encoded...)
	p.slots = append(p.slots, slotEntry{
		Flags:    SlotFlagActive | SlotFlagDirty,
		RecordID: entry.RecordID(),
		Offset:   cint.FromUint64(uint64(offset)),
		Length:   cint.FromUint64(uint64(size)),
	})
	p.SetDirty()
	return nil
}

// GetRecord looks up recordID's slot, validates its byte range, and decodes
// it with decode.
func (p *Page) GetRecord(recordID cint.CInt, decode RecordDecoder) (Record, error) {
	for _, s := range p.slots {
		if !s.RecordID.Equal(recordID) {
			continue
		}
		offset, err := s.Offset.Uint64()
		if err != nil {
			return nil, err
		}
		length, err := s.Length.Uint64()
		if err != nil {
			return nil, err
		}
		if int(offset+length) > len(p.data) {
			return nil, fmt.Errorf("%w: offset=%d length=%d", ErrInvalidSlot, offset, length)
		}
		return decode(p.data[offset : offset+length])
	}
	return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
}

// RemoveEntry flips a slot from Active to Free, preserving its offset and
// length for reuse. Physical data is left untouched; compaction is
// deferred.
func (p *Page) RemoveEntry(recordID cint.CInt) error {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.RecordID.Equal(recordID) {
			continue
		}
		offset, err := s.Offset.Uint64()
		if err != nil {
			return err
		}
		length, err := s.Length.Uint64()
		if err != nil {
			return err
		}
		if int(offset+length) > len(p.data) {
			return fmt.Errorf("%w: offset=%d length=%d", ErrInvalidSlot, offset, length)
		}
		s.Flags &^= SlotFlagActive
		s.Flags |= SlotFlagFree | SlotFlagDirty
		p.SetDirty()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
}

// Entries iterates all Active slots in slot-index order, decoding each with
// decode and filtering out records whose own RecordFlagDeleted bit is set.
func (p *Page) Entries(decode RecordDecoder) ([]Record, error) {
	var out []Record
	for _, s := range p.slots {
		if !s.Flags.Has(SlotFlagActive) {
			continue
		}
		offset, err := s.Offset.Uint64()
		if err != nil {
			return nil, err
		}
		length, err := s.Length.Uint64()
		if err != nil {
			return nil, err
		}
		rec, err := decode(p.data[offset : offset+length])
		if err != nil {
			return nil, err
		}
		if rec.Flags()&RecordFlagDeleted != 0 {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Serialization
// ───────────────────────────────────────────────────────────────────────────

// MarshalBinary serializes the page to exactly pageSize bytes: header, slot
// index, data, then a trailing 4-byte Adler-32 checksum (spec.md §4.3 calls
// this "CRC32 (Adler variant)"; computed with the stdlib hash/adler32).
func (p *Page) MarshalBinary() ([]byte, error) {
	if p.BytesUsed() > p.pageSize {
		return nil, fmt.Errorf("%w: page %s exceeds size %d", ErrPageFull, p.PageID, p.pageSize)
	}
	buf := make([]byte, 0, p.pageSize)
	buf = append(buf, p.PageID.Bytes()...)
	buf = append(buf, p.ContainerID.Bytes()...)
	buf = append(buf, byte(p.Flags))
	buf = append(buf, p.NextPageID.Bytes()...)
	buf = append(buf, cint.FromUint64(uint64(len(p.slots))).Bytes()...)
	for _, s := range p.slots {
		buf = append(buf, byte(s.Flags))
		buf = append(buf, s.RecordID.Bytes()...)
		buf = append(buf, s.Offset.Bytes()...)
		buf = append(buf, s.Length.Bytes()...)
	}
	buf = append(buf, p.data...)

	// Pad to pageSize-4 before computing the checksum so the CRC always
	// lands in the page's final 4 bytes, with the checksum covering the
	// zero padding too.
	if len(buf) < p.pageSize-4 {
		buf = append(buf, make([]byte, p.pageSize-4-len(buf))...)
	}
	sum := adler32.Checksum(buf)
	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], sum)
	buf = append(buf, crcBytes[:]...)
	return buf, nil
}

// UnmarshalPage parses a pageSize-byte on-disk page. The slot count is
// self-described in the header, so no external bookkeeping is required.
func UnmarshalPage(buf []byte, pageSize int) (*Page, error) {
	if len(buf) < pageSize {
		return nil, fmt.Errorf("%w: short page buffer", ErrCorrupt)
	}
	trailer := buf[pageSize-4 : pageSize]
	body := buf[:pageSize-4]
	if adler32.Checksum(body) != binary.BigEndian.Uint32(trailer) {
		return nil, ErrCorrupt
	}

	off := 0
	pageID, n, err := cint.Decode(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("page_id: %w", err)
	}
	off += n
	containerID, n, err := cint.Decode(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("container_id: %w", err)
	}
	off += n
	flags := PageFlags(buf[off])
	off++
	nextPageID, n, err := cint.Decode(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("next_page_id: %w", err)
	}
	off += n
	slotCountC, n, err := cint.Decode(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("slot_count: %w", err)
	}
	off += n
	slotCount64, err := slotCountC.Uint64()
	if err != nil {
		return nil, fmt.Errorf("slot_count: %w", err)
	}
	nSlots := int(slotCount64)

	p := &Page{
		PageID:      pageID,
		ContainerID: containerID,
		Flags:       flags,
		NextPageID:  nextPageID,
		pageSize:    pageSize,
	}

	for i := 0; i < nSlots; i++ {
		sf := SlotFlags(buf[off])
		off++
		recID, n, err := cint.Decode(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("slot[%d].record_id: %w", i, err)
		}
		off += n
		offset, n, err := cint.Decode(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("slot[%d].offset: %w", i, err)
		}
		off += n
		length, n, err := cint.Decode(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("slot[%d].length: %w", i, err)
		}
		off += n
		p.slots = append(p.slots, slotEntry{Flags: sf, RecordID: recID, Offset: offset, Length: length})
	}

	dataEnd := pageSize - 4
	p.data = make([]byte, dataEnd-off)
	copy(p.data, buf[off:dataEnd])
	return p, nil
}
