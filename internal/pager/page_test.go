package pager

import (
	"testing"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// testRecord is a minimal Record used across the pager test suite.
type testRecord struct {
	id      cint.CInt
	flags   RecordFlags
	payload []byte
}

func (r *testRecord) RecordID() cint.CInt { return r.id }
func (r *testRecord) Flags() RecordFlags  { return r.flags }
func (r *testRecord) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, len(r.payload)+r.id.Len()+1)
	out = append(out, byte(r.flags))
	out = append(out, r.id.Bytes()...)
	out = append(out, r.payload...)
	return out, nil
}

func decodeTestRecord(data []byte) (Record, error) {
	flags := RecordFlags(data[0])
	id, n, err := cint.Decode(data[1:])
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), data[1+n:]...)
	return &testRecord{id: id, flags: flags, payload: payload}, nil
}

func newRecord(id uint64, size int) *testRecord {
	return &testRecord{id: cint.FromUint64(id), payload: make([]byte, size)}
}

// TestNewFreePage exercises spec.md §8 scenario 2.
func TestNewFreePage(t *testing.T) {
	p, err := NewFreePage(cint.FromUint64(7), 4096)
	if err != nil {
		t.Fatalf("NewFreePage: %v", err)
	}
	if p.BytesUsed() != 4096 {
		t.Fatalf("bytes used = %d, want 4096", p.BytesUsed())
	}
	if !p.Flags.Has(PageFlagFree) || !p.Flags.Has(PageFlagDirty) {
		t.Fatalf("flags = %v, want Free|Dirty", p.Flags)
	}
	if !p.IsFreePage() {
		t.Fatalf("IsFreePage() = false, want true")
	}
	if p.data[0] != 0xDE || p.data[1] != 0xCA || p.data[2] != 0xFA || p.data[3] != 0xCE {
		t.Fatalf("front guard = % x, want DE CA FA CE", p.data[:4])
	}
	tail := p.data[len(p.data)-4:]
	if tail[0] != 0xEC || tail[1] != 0xAF || tail[2] != 0xAC || tail[3] != 0xED {
		t.Fatalf("back guard = % x, want EC AF AC ED", tail)
	}
	for i := 4; i < len(p.data)-4; i++ {
		if p.data[i] != 0 {
			t.Fatalf("interior byte %d = %#x, want 0", i, p.data[i])
		}
	}
}

// TestPageRecordLifecycle exercises spec.md §8 scenario 3.
func TestPageRecordLifecycle(t *testing.T) {
	p := NewPage(cint.FromUint64(1), cint.FromUint64(ContainerMetadata), 4096, PageFlagNone)

	for _, id := range []uint64{1, 2, 3} {
		if err := p.WriteRecord(newRecord(id, 100)); err != nil {
			t.Fatalf("WriteRecord(%d): %v", id, err)
		}
	}
	entries, err := p.Entries(decodeTestRecord)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}

	if err := p.RemoveEntry(cint.FromUint64(2)); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	entries, err = p.Entries(decodeTestRecord)
	if err != nil {
		t.Fatalf("Entries after remove: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if got := entries[0].RecordID(); !got.Equal(cint.FromUint64(1)) {
		t.Errorf("entries[0] = %s, want 1", got)
	}
	if got := entries[1].RecordID(); !got.Equal(cint.FromUint64(3)) {
		t.Errorf("entries[1] = %s, want 3", got)
	}

	if err := p.WriteRecord(newRecord(4, 80)); err != nil {
		t.Fatalf("WriteRecord(4): %v", err)
	}
	entries, err = p.Entries(decodeTestRecord)
	if err != nil {
		t.Fatalf("Entries after reuse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3 after slot reuse", len(entries))
	}
}

func TestWriteRecord_PageFull(t *testing.T) {
	p := NewPage(cint.FromUint64(1), cint.FromUint64(ContainerMetadata), 256, PageFlagNone)
	var lastErr error
	for i := 0; i < 100; i++ {
		if err := p.WriteRecord(newRecord(uint64(i), 50)); err != nil {
			lastErr = err
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected ErrPageFull, got no error after filling page")
	}
	if !p.Flags.Has(PageFlagFull) {
		t.Errorf("expected Full flag set")
	}
}

func TestRemoveEntry_NotFound(t *testing.T) {
	p := NewPage(cint.FromUint64(1), cint.FromUint64(ContainerMetadata), 4096, PageFlagNone)
	if err := p.RemoveEntry(cint.FromUint64(99)); err == nil {
		t.Fatalf("expected ErrRecordNotFound")
	}
}

func TestMarshalUnmarshalPage_RoundTrip(t *testing.T) {
	p := NewPage(cint.FromUint64(5), cint.FromUint64(ContainerMetadata), 4096, PageFlagNone)
	for _, id := range []uint64{10, 20, 30} {
		if err := p.WriteRecord(newRecord(id, 64)); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != 4096 {
		t.Fatalf("len(buf) = %d, want 4096", len(buf))
	}

	got, err := UnmarshalPage(buf, 4096)
	if err != nil {
		t.Fatalf("UnmarshalPage: %v", err)
	}
	if !got.PageID.Equal(p.PageID) {
		t.Errorf("page id mismatch: got %s, want %s", got.PageID, p.PageID)
	}
	entries, err := got.Entries(decodeTestRecord)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
}

func TestUnmarshalPage_CorruptCRC(t *testing.T) {
	p := NewPage(cint.FromUint64(1), cint.FromUint64(ContainerMetadata), 4096, PageFlagNone)
	buf, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := UnmarshalPage(buf, 4096); err != ErrCorrupt {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
}
