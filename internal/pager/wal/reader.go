package wal

import "fmt"

// Reader parses a serialized WAL and exposes only the frames that survive
// salt and checksum validation, stopping at the first bad frame (a torn
// tail from a crash mid-write) rather than failing the whole read
// (spec.md §4.6 "Reader contract").
type Reader struct {
	header Header
	frames []Frame
	pageAt map[uint32]int // page number -> index of its latest frame
}

// FromBytes parses buf into a Reader. The header's own checksum must be
// valid; frame parsing then proceeds until a salt mismatch, a short read,
// or a bad checksum is hit.
func FromBytes(buf []byte) (*Reader, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: WAL file too small", ErrTooSmall)
	}
	h, err := HeaderFromBytes(buf[:HeaderSize])
	if err != nil {
		return nil, err
	}
	if !h.VerifyChecksum() {
		return nil, fmt.Errorf("%w: WAL header", ErrChecksum)
	}

	r := &Reader{header: h, pageAt: map[uint32]int{}}
	current := [2]uint32{h.Checksum1, h.Checksum2}
	offset := HeaderSize
	frameSize := FrameHeaderSize + int(h.PageSize)

	for offset+frameSize <= len(buf) {
		fh, err := FrameHeaderFromBytes(buf[offset : offset+FrameHeaderSize])
		if err != nil {
			break
		}
		if fh.Salt1 != h.Salt1 || fh.Salt2 != h.Salt2 {
			break
		}

		dataStart := offset + FrameHeaderSize
		dataEnd := dataStart + int(h.PageSize)
		data := buf[dataStart:dataEnd]

		s0, s1 := computeChecksum(fh.Bytes()[0:8], current[0], current[1], h.bigEndian())
		s0, s1 = computeChecksum(data, s0, s1, h.bigEndian())
		if s0 != fh.Checksum1 || s1 != fh.Checksum2 {
			break
		}
		current = [2]uint32{s0, s1}

		r.pageAt[fh.PageNumber] = len(r.frames)
		r.frames = append(r.frames, Frame{Header: fh, Data: append([]byte(nil), data...)})
		offset = dataEnd
	}
	return r, nil
}

// Header returns the WAL's header.
func (r *Reader) Header() Header { return r.header }

// FrameCount reports the number of frames that passed validation.
func (r *Reader) FrameCount() int { return len(r.frames) }

// Frames returns every validated frame, in append order.
func (r *Reader) Frames() []Frame { return r.frames }

// lastCommitIndex returns the index of the last commit frame, or -1 if
// there is none.
func (r *Reader) lastCommitIndex() int {
	last := -1
	for i, f := range r.frames {
		if f.Header.IsCommit() {
			last = i
		}
	}
	return last
}

// GetPage returns the most recent committed version of pageNumber's data,
// or ok=false if the WAL holds no committed version of it. Frames past the
// last commit are ignored — uncommitted writes are not visible (spec.md
// §4.6: "no commits, no valid pages").
func (r *Reader) GetPage(pageNumber uint32) ([]byte, bool) {
	lastCommit := r.lastCommitIndex()
	if lastCommit < 0 {
		return nil, false
	}
	latest := -1
	for i := 0; i <= lastCommit; i++ {
		if r.frames[i].Header.PageNumber == pageNumber {
			latest = i
		}
	}
	if latest < 0 {
		return nil, false
	}
	return r.frames[latest].Data, true
}
