// Package clock provides the monotonic clock and random-salt-source
// abstractions the pager and WAL need (spec.md §6's "monotonic clock for LRU
// timestamps" and "secure-ish random source for WAL salt generation").
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock supplies monotonically increasing timestamps for LRU bookkeeping.
// The zero value of SystemClock is ready to use.
type Clock interface {
	Now() int64
}

// SystemClock reads the runtime monotonic clock via time.Since; Go's
// runtime guarantees values read this way are monotonically non-decreasing
// for the process's lifetime, which is all the LRU needs.
type SystemClock struct{}

// processStart anchors SystemClock readings; time.Since measures from its
// monotonic reading, not from wall-clock time.
var processStart = time.Now()

// Now returns the monotonic nanoseconds elapsed since the package was
// initialized.
func (SystemClock) Now() int64 { return int64(time.Since(processStart)) }

// SaltSource produces the pair of random uint32 salts a WAL header or reset
// needs. Generating real entropy per spec.md §6 ("a secure-ish random
// source ... seeded from the system clock if nothing better is available").
type SaltSource interface {
	Salts() (salt1, salt2 uint32)
}

// UUIDSaltSource derives two salts from the first 8 of the 16 bytes of a
// fresh UUIDv4, which is already how the teacher generates row identifiers
// (github.com/google/uuid) — reused here as the WAL's entropy source rather
// than hand-rolling a PRNG.
type UUIDSaltSource struct{}

// Salts reads bytes 0-3 and 4-7 of a freshly generated UUIDv4 as two
// big-endian uint32s.
func (UUIDSaltSource) Salts() (salt1, salt2 uint32) {
	id := uuid.New()
	b := id[:]
	salt1 = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	salt2 = uint32(b[4])<<24 | uint32(b[5])<<16 | uint32(b[6])<<8 | uint32(b[7])
	return salt1, salt2
}
