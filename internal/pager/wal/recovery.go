package wal

// NeedsRecovery reports whether buf looks like a WAL with at least one
// full frame past its header — a non-empty WAL implies the last session
// ended before its frames were checkpointed into the main file.
func NeedsRecovery(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	h, err := HeaderFromBytes(buf[:HeaderSize])
	if err != nil || !h.VerifyChecksum() {
		return false
	}
	return len(buf) >= HeaderSize+FrameHeaderSize+int(h.PageSize)
}

// Recover parses buf and returns the page updates a crash-recovery pass
// should apply to the main database file: every page committed in the
// WAL, at its most recent version, via a Full checkpoint.
func Recover(buf []byte) ([]PageUpdate, Result, error) {
	r, err := FromBytes(buf)
	if err != nil {
		return nil, Result{}, err
	}
	cp := NewCheckpointer(r.Header().PageSize)
	updates, result := cp.Checkpoint(r, ModeFull)
	return updates, result, nil
}
