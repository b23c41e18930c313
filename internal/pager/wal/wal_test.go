package wal

import (
	"bytes"
	"testing"
)

type fixedSalts struct{ s1, s2 uint32 }

func (f fixedSalts) Salts() (uint32, uint32) { return f.s1, f.s2 }

func page(b byte, size int) []byte {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestHeader_SerializeRoundTrip(t *testing.T) {
	h := NewHeader(4096, fixedSalts{1, 2})
	if !h.VerifyChecksum() {
		t.Fatal("fresh header should verify")
	}
	parsed, err := HeaderFromBytes(h.Bytes())
	if err != nil {
		t.Fatalf("HeaderFromBytes: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, h)
	}
}

func TestHeader_InvalidMagicRejected(t *testing.T) {
	h := NewHeader(4096, fixedSalts{1, 2})
	buf := h.Bytes()
	buf[0] = 0xff
	if _, err := HeaderFromBytes(buf); err == nil {
		t.Fatal("expected invalid magic error")
	}
}

func TestFrameHeader_CommitFlag(t *testing.T) {
	fh := FrameHeader{PageNumber: 1}
	if fh.IsCommit() {
		t.Fatal("zero DBSize must not be a commit frame")
	}
	fh.DBSize = 10
	if !fh.IsCommit() {
		t.Fatal("nonzero DBSize must be a commit frame")
	}
}

func TestWriter_AddFrameRejectsWrongPageSize(t *testing.T) {
	w := NewWriter(4096, fixedSalts{1, 2})
	if err := w.AddFrame(1, make([]byte, 100)); err == nil {
		t.Fatal("expected page size error")
	}
}

func TestWriter_CommitWithNoFramesFails(t *testing.T) {
	w := NewWriter(4096, fixedSalts{1, 2})
	if err := w.Commit(4096); err != ErrNoFramesToCommit {
		t.Fatalf("got %v, want ErrNoFramesToCommit", err)
	}
}

func TestWriter_ReaderRoundTrip(t *testing.T) {
	w := NewWriter(16, fixedSalts{7, 9})
	if err := w.AddFrame(1, page(0xAA, 16)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.AddFrame(2, page(0xBB, 16)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(32); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := FromBytes(w.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if r.FrameCount() != 2 {
		t.Fatalf("FrameCount = %d, want 2", r.FrameCount())
	}
	data, ok := r.GetPage(1)
	if !ok || !bytes.Equal(data, page(0xAA, 16)) {
		t.Fatalf("GetPage(1) = %v, %v", data, ok)
	}
	data, ok = r.GetPage(2)
	if !ok || !bytes.Equal(data, page(0xBB, 16)) {
		t.Fatalf("GetPage(2) = %v, %v", data, ok)
	}
	if _, ok := r.GetPage(99); ok {
		t.Fatal("GetPage(99) should miss")
	}
}

func TestReader_UncommittedFramesInvisible(t *testing.T) {
	w := NewWriter(16, fixedSalts{1, 1})
	if err := w.AddFrame(1, page(0x11, 16)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	// No Commit call: nothing should be visible via GetPage.
	r, err := FromBytes(w.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if _, ok := r.GetPage(1); ok {
		t.Fatal("uncommitted page must not be visible")
	}
}

func TestReader_LatestVersionWinsAfterRepeatedWrites(t *testing.T) {
	w := NewWriter(8, fixedSalts{3, 4})
	if err := w.AddFrame(5, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.AddFrame(5, page(0x02, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(8); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := FromBytes(w.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	data, ok := r.GetPage(5)
	if !ok || !bytes.Equal(data, page(0x02, 8)) {
		t.Fatalf("GetPage(5) = %v, %v, want latest version", data, ok)
	}
}

func TestReader_TornTailStopsAtBadFrame(t *testing.T) {
	w := NewWriter(8, fixedSalts{3, 4})
	if err := w.AddFrame(1, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(8); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	buf := w.Bytes()
	// Append a truncated, garbage partial frame to simulate a crash mid-write.
	buf = append(buf, make([]byte, FrameHeaderSize+4)...)

	r, err := FromBytes(buf)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if r.FrameCount() != 1 {
		t.Fatalf("FrameCount = %d, want 1 (torn tail ignored)", r.FrameCount())
	}
}

func TestWriter_Reset(t *testing.T) {
	// nil selects the UUID salt source, so each Reset draws a new salt pair.
	w := NewWriter(8, nil)
	if err := w.AddFrame(1, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(8); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	seqBefore := w.Header().CheckpointSeq
	saltBefore1, saltBefore2 := w.Header().Salt1, w.Header().Salt2

	w.Reset()

	if len(w.Frames()) != 0 {
		t.Fatal("Reset should clear frames")
	}
	if w.Header().CheckpointSeq != seqBefore+1 {
		t.Fatalf("CheckpointSeq = %d, want %d", w.Header().CheckpointSeq, seqBefore+1)
	}
	if w.Header().Salt1 == saltBefore1 && w.Header().Salt2 == saltBefore2 {
		t.Fatal("Reset should regenerate salts")
	}
	if !w.Header().VerifyChecksum() {
		t.Fatal("header after Reset should still verify")
	}
}

func TestCheckpoint_Basic(t *testing.T) {
	w := NewWriter(8, fixedSalts{5, 6})
	if err := w.AddFrame(1, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.AddFrame(2, page(0x02, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(16); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := FromBytes(w.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	cp := NewCheckpointer(8)
	updates, result := cp.Checkpoint(r, ModeFull)

	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	if updates[0].PageNumber != 1 || updates[1].PageNumber != 2 {
		t.Fatalf("updates not sorted by page number: %+v", updates)
	}
	if !result.Completed || result.CheckpointedFrames != 2 || result.WALFrames != 2 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCheckpoint_NoCommitYieldsNothing(t *testing.T) {
	w := NewWriter(8, fixedSalts{5, 6})
	if err := w.AddFrame(1, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	r, err := FromBytes(w.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	cp := NewCheckpointer(8)
	updates, result := cp.Checkpoint(r, ModeFull)

	if len(updates) != 0 {
		t.Fatalf("len(updates) = %d, want 0", len(updates))
	}
	if result.Completed {
		t.Fatal("Completed should be false with no commit frames")
	}
	if result.CheckpointedFrames != 0 {
		t.Fatalf("CheckpointedFrames = %d, want 0", result.CheckpointedFrames)
	}
}

func TestCheckpoint_PassiveCompletesWithPartialCommit(t *testing.T) {
	w := NewWriter(8, fixedSalts{5, 6})
	if err := w.AddFrame(1, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(8); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := w.AddFrame(2, page(0x02, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	// Second frame left uncommitted.

	r, err := FromBytes(w.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	cp := NewCheckpointer(8)

	updates, passiveResult := cp.Checkpoint(r, ModePassive)
	if !passiveResult.Completed {
		t.Fatal("Passive checkpoint should complete when any frame is committed")
	}
	if len(updates) != 1 {
		t.Fatalf("len(updates) = %d, want 1", len(updates))
	}

	_, fullResult := cp.Checkpoint(r, ModeFull)
	if fullResult.Completed {
		t.Fatal("Full checkpoint should not be Completed when frames remain uncommitted")
	}
}

func TestRecovery_NeedsRecovery(t *testing.T) {
	w := NewWriter(8, fixedSalts{1, 2})
	if NeedsRecovery(w.Bytes()) {
		t.Fatal("a WAL with only a header should not need recovery")
	}
	if err := w.AddFrame(1, page(0x01, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(8); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !NeedsRecovery(w.Bytes()) {
		t.Fatal("a WAL with a full frame should need recovery")
	}
}

func TestRecovery_RecoverAppliesLatestPageVersions(t *testing.T) {
	w := NewWriter(8, fixedSalts{1, 2})
	if err := w.AddFrame(3, page(0xAA, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.AddFrame(3, page(0xBB, 8)); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if err := w.Commit(8); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	updates, result, err := Recover(w.Bytes())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !result.Completed {
		t.Fatal("recovery checkpoint should be Completed")
	}
	if len(updates) != 1 || !bytes.Equal(updates[0].Data, page(0xBB, 8)) {
		t.Fatalf("updates = %+v, want single latest version", updates)
	}
}
