package pager

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// Signature identifies an EpilogLite database file.
const Signature = "EpilogLite"

// CurrentFormatVersion is the highest format version this implementation
// understands; headers declaring a newer version are rejected.
const CurrentFormatVersion uint32 = 1

// MaxHeaderSize is the fixed size of the serialized header region at the
// front of pages 0 and 1. The freelist pointer's offset invariant
// (spec.md §4.2) is defined relative to this constant.
const MaxHeaderSize = 100

// Header parse/write errors (spec.md §7's header error-kind row). These are
// typed and wrapped so callers can errors.Is/As against a stable sentinel
// while still seeing the offending value in the message — the same idiom
// the teacher's pager.go uses throughout (fmt.Errorf("...: %w", err)).
var (
	ErrInvalidHeaderSignature = errors.New("pager: invalid header signature")
	ErrFormatTooNew           = errors.New("pager: format version too new")
	ErrInvalidPageSize        = errors.New("pager: invalid page size exponent")
	ErrInvalidFreelistOffset  = errors.New("pager: invalid freelist offset")
	ErrInvalidCRC             = errors.New("pager: header CRC mismatch")
	ErrInvalidSize            = errors.New("pager: header too short")
	ErrHeaderMismatch         = errors.New("pager: primary/secondary header mismatch")
)

// DatabaseHeader is the duplicated header stored at the front of pages 0
// and 1.
type DatabaseHeader struct {
	FormatVersion    uint32
	PageSizeExponent uint8 // page size = 1 << PageSizeExponent
	FeatureFlags     uint32
	FreelistPageID   uint64
	FreelistOffset   uint32
	ApplicationID    cint.CInt
	MigrationVersion cint.CInt
}

// PageSize returns 1 << PageSizeExponent.
func (h DatabaseHeader) PageSize() int { return 1 << h.PageSizeExponent }

// NewHeader builds a header with the freelist pointer at its mandated
// location (page 0, offset MaxHeaderSize) and no application metadata.
func NewHeader(pageSizeExponent uint8) DatabaseHeader {
	return DatabaseHeader{
		FormatVersion:    CurrentFormatVersion,
		PageSizeExponent: pageSizeExponent,
		FreelistPageID:   0,
		FreelistOffset:   MaxHeaderSize,
		ApplicationID:    cint.FromUint64(0),
		MigrationVersion: cint.FromUint64(0),
	}
}

// MarshalBinary serializes h to exactly MaxHeaderSize bytes, CRC32
// (IEEE) included as the trailing 4 bytes.
func (h DatabaseHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MaxHeaderSize)
	copy(buf[0:10], Signature)
	binary.LittleEndian.PutUint32(buf[10:14], h.FormatVersion)
	buf[14] = h.PageSizeExponent
	binary.LittleEndian.PutUint32(buf[15:19], h.FeatureFlags)
	binary.LittleEndian.PutUint64(buf[19:27], h.FreelistPageID)
	binary.LittleEndian.PutUint32(buf[27:31], h.FreelistOffset)

	off := 31
	appID := h.ApplicationID.Bytes()
	migVer := h.MigrationVersion.Bytes()
	if off+len(appID)+len(migVer)+4 > MaxHeaderSize {
		return nil, fmt.Errorf("pager: header fields exceed MaxHeaderSize")
	}
	off += copy(buf[off:], appID)
	off += copy(buf[off:], migVer)

	crc := crc32.ChecksumIEEE(buf[:MaxHeaderSize-4])
	binary.LittleEndian.PutUint32(buf[MaxHeaderSize-4:], crc)
	return buf, nil
}

// UnmarshalHeader parses and validates a MaxHeaderSize-byte header.
func UnmarshalHeader(buf []byte) (DatabaseHeader, error) {
	if len(buf) < MaxHeaderSize {
		return DatabaseHeader{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSize, len(buf), MaxHeaderSize)
	}
	if string(buf[0:10]) != Signature {
		return DatabaseHeader{}, fmt.Errorf("%w: got %q", ErrInvalidHeaderSignature, buf[0:10])
	}

	storedCRC := binary.LittleEndian.Uint32(buf[MaxHeaderSize-4 : MaxHeaderSize])
	computedCRC := crc32.ChecksumIEEE(buf[:MaxHeaderSize-4])
	if storedCRC != computedCRC {
		return DatabaseHeader{}, fmt.Errorf("%w: stored=%08x computed=%08x", ErrInvalidCRC, storedCRC, computedCRC)
	}

	h := DatabaseHeader{
		FormatVersion:    binary.LittleEndian.Uint32(buf[10:14]),
		PageSizeExponent: buf[14],
		FeatureFlags:     binary.LittleEndian.Uint32(buf[15:19]),
		FreelistPageID:   binary.LittleEndian.Uint64(buf[19:27]),
		FreelistOffset:   binary.LittleEndian.Uint32(buf[27:31]),
	}
	if h.FormatVersion > CurrentFormatVersion {
		return DatabaseHeader{}, fmt.Errorf("%w: %d > %d", ErrFormatTooNew, h.FormatVersion, CurrentFormatVersion)
	}
	if h.PageSizeExponent < 9 || h.PageSizeExponent > 63 {
		return DatabaseHeader{}, fmt.Errorf("%w: %d", ErrInvalidPageSize, h.PageSizeExponent)
	}
	if h.FreelistPageID == 0 && h.FreelistOffset != MaxHeaderSize {
		return DatabaseHeader{}, fmt.Errorf("%w: got %d, want %d", ErrInvalidFreelistOffset, h.FreelistOffset, MaxHeaderSize)
	}

	off := 31
	appID, n, err := cint.Decode(buf[off:])
	if err != nil {
		return DatabaseHeader{}, fmt.Errorf("application_id: %w", err)
	}
	off += n
	migVer, _, err := cint.Decode(buf[off:])
	if err != nil {
		return DatabaseHeader{}, fmt.Errorf("migration_version: %w", err)
	}
	h.ApplicationID = appID
	h.MigrationVersion = migVer
	return h, nil
}

// ReadDuplicateHeaders reads the header copies at the front of pages 0 and
// 1 (each starting at its own page boundary), per spec.md §4.2's "duplicate
// headers" rule: any byte-level difference between the two copies is
// reported as ErrHeaderMismatch; byte-identical copies are validated once,
// so identical corruption surfaces as that copy's own error (e.g.
// ErrInvalidCRC).
func ReadDuplicateHeaders(r io.ReaderAt, pageSize int) (DatabaseHeader, error) {
	primaryBuf := make([]byte, MaxHeaderSize)
	if _, err := r.ReadAt(primaryBuf, 0); err != nil && err != io.EOF {
		return DatabaseHeader{}, fmt.Errorf("pager: read primary header: %w", err)
	}
	secondaryBuf := make([]byte, MaxHeaderSize)
	if _, err := r.ReadAt(secondaryBuf, int64(pageSize)); err != nil && err != io.EOF {
		return DatabaseHeader{}, fmt.Errorf("pager: read secondary header: %w", err)
	}

	// If the two copies disagree at the byte level — including just the
	// stored CRC field — that is exactly the "CRCs disagree" condition
	// spec.md §4.2 reports as HeaderMismatch, independent of whether either
	// copy is internally self-consistent. Only when both copies are
	// byte-identical (whether valid or identically corrupted) do we fall
	// through to a single validation pass.
	if !bytes.Equal(primaryBuf, secondaryBuf) {
		pCRC := binary.LittleEndian.Uint32(primaryBuf[MaxHeaderSize-4:])
		sCRC := binary.LittleEndian.Uint32(secondaryBuf[MaxHeaderSize-4:])
		return DatabaseHeader{}, fmt.Errorf("%w: primary=%08x secondary=%08x", ErrHeaderMismatch, pCRC, sCRC)
	}
	return UnmarshalHeader(primaryBuf)
}

// WriteDuplicateHeaders writes h to both page 0 and page 1, primary first
// and flushed before the secondary (spec.md §4.4 "Failure model": headers
// are rewritten atomically, never lazily).
func WriteDuplicateHeaders(w io.WriterAt, sync func() error, h DatabaseHeader, pageSize int) error {
	buf, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("pager: write primary header: %w", err)
	}
	if sync != nil {
		if err := sync(); err != nil {
			return fmt.Errorf("pager: sync after primary header: %w", err)
		}
	}
	if _, err := w.WriteAt(buf, int64(pageSize)); err != nil {
		return fmt.Errorf("pager: write secondary header: %w", err)
	}
	return nil
}

// ───────────────────────────────────────────────────────────────────────────
// Page-size selection benchmark
// ───────────────────────────────────────────────────────────────────────────

// pageSizeCandidateExponents are 2^9 .. 2^15, the default benchmark range;
// callers that enable test_large_pages pass a wider range explicitly.
var pageSizeCandidateExponents = []uint8{9, 10, 11, 12, 13, 14, 15}

// ChoosePageSizeExponent benchmarks candidate page sizes by writing and
// reading 100-iteration batches against a scratch temp file — never the
// target database path, resolving the Open Question in spec.md §9 about a
// failed benchmark corrupting user data — and returns the exponent with the
// best combined read/write latency.
func ChoosePageSizeExponent(exponents []uint8) (uint8, error) {
	if len(exponents) == 0 {
		exponents = pageSizeCandidateExponents
	}
	scratch, err := os.CreateTemp("", "epiloglite-pagesize-*.scratch")
	if err != nil {
		return 0, fmt.Errorf("pager: create scratch file: %w", err)
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	type result struct {
		exponent uint8
		latency  time.Duration
	}
	results := make([]result, 0, len(exponents))

	for _, exp := range exponents {
		size := 1 << exp
		data := bytes.Repeat([]byte{0xA5}, size)
		readBuf := make([]byte, size)

		start := time.Now()
		for i := 0; i < 100; i++ {
			if _, err := scratch.WriteAt(data, 0); err != nil {
				return 0, fmt.Errorf("pager: page-size benchmark write: %w", err)
			}
			if _, err := scratch.ReadAt(readBuf, 0); err != nil {
				return 0, fmt.Errorf("pager: page-size benchmark read: %w", err)
			}
		}
		results = append(results, result{exponent: exp, latency: time.Since(start)})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].latency < results[j].latency })
	log.Printf("pager: page-size benchmark picked 2^%d (%s) after %d candidates", results[0].exponent, results[0].latency, len(results))
	return results[0].exponent, nil
}
