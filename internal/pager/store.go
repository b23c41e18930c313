package pager

import (
	"errors"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// Backing-store error kinds (spec.md §7's "Backing store" row).
var (
	ErrPageOutOfBounds          = errors.New("pager: page out of bounds")
	ErrPageNotFound             = errors.New("pager: page not found")
	ErrTableIDMismatch          = errors.New("pager: container id mismatch on overwrite")
	ErrOutOfSpace               = errors.New("pager: out of space")
	ErrFileNotFound             = errors.New("pager: file not found")
	ErrFileExists               = errors.New("pager: file already exists")
	ErrApplicationIDMismatch    = errors.New("pager: application id mismatch")
	ErrMigrationVersionMismatch = errors.New("pager: migration version too old")
)

// BackingStore is a sequence of fixed-size pages addressed by ordinal; page
// 0 is always the primary header page (spec.md §4.4). FileBackingStore and
// MemoryBackingStore are the two implementations; tests substitute their
// own to exercise the pager in isolation.
type BackingStore interface {
	// Open opens the store, creating it (including parent directories and
	// duplicate headers) if create is true and it does not yet exist.
	Open(create bool) error

	// ReadPage returns the page at id.
	ReadPage(id cint.CInt) (*Page, error)

	// WritePage persists p. Durability is only guaranteed after Flush.
	WritePage(p *Page) error

	// AllocatePage pops a page id from the freelist, or extends the store,
	// and returns a freshly minted Free page's id.
	AllocatePage() (cint.CInt, error)

	// FreePage overwrites id with a Free-page layout and pushes it onto
	// the freelist.
	FreePage(id cint.CInt) error

	// WriteJournalEntry appends a journal entry synchronously, bypassing
	// normal page buffering (spec.md §4.7).
	WriteJournalEntry(entry JournalEntry) error

	// Flush commits buffered writes to stable storage.
	Flush() error

	// Close flushes and releases any resources (including the whole-file
	// lock, for FileBackingStore).
	Close() error

	// TotalPages and FreePages report accounting for the caller.
	TotalPages() uint64
	FreePages() uint64

	// Header returns the currently validated database header.
	Header() DatabaseHeader
}

// OpenOptions configures an Open call across both store implementations.
type OpenOptions struct {
	Create           bool
	PageSizeExponent uint8 // 0 ⇒ benchmark a fresh exponent on create
	ApplicationID    cint.CInt
	MigrationVersion cint.CInt
}
