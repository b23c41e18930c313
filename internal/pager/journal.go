package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/JEleniel/epiloglite/internal/cint"
)

// JournalEntryKind tags a JournalEntry's logical mutation (spec.md §3
// "JournalEntry").
type JournalEntryKind uint8

const (
	JournalBegin JournalEntryKind = iota + 1
	JournalCommit
	JournalRollback
	JournalCreate
	JournalAlter
	JournalDrop
	JournalInsert
	JournalUpdate
	JournalDelete
)

func (k JournalEntryKind) String() string {
	switch k {
	case JournalBegin:
		return "Begin"
	case JournalCommit:
		return "Commit"
	case JournalRollback:
		return "Rollback"
	case JournalCreate:
		return "Create"
	case JournalAlter:
		return "Alter"
	case JournalDrop:
		return "Drop"
	case JournalInsert:
		return "Insert"
	case JournalUpdate:
		return "Update"
	case JournalDelete:
		return "Delete"
	default:
		return fmt.Sprintf("JournalEntryKind(%d)", uint8(k))
	}
}

// ErrJournalWriteError surfaces durability-layer write failures (spec.md §7).
var ErrJournalWriteError = errors.New("pager: journal write error")

// ErrJournalCorrupt is returned when a journal entry's CRC does not match.
var ErrJournalCorrupt = errors.New("pager: journal entry corrupt")

// JournalEntry is a tagged, CRC-protected record of a logical mutation,
// persisted before the corresponding page write in rollback journal mode
// (spec.md §4.7). Not every field applies to every Kind:
//
//   - Begin/Commit/Rollback use only TxID.
//   - Create/Alter/Drop use TableID and, for Alter/Drop, Before (the
//     serialized prior definition, to support rollback).
//   - Insert/Update/Delete use TableID, RowID, and row images: Insert sets
//     After; Delete sets Before; Update sets both Before and After and
//     the After/Upsert flags.
type JournalEntry struct {
	Kind    JournalEntryKind
	TxID    uint64
	TableID cint.CInt
	RowID   cint.CInt
	Before  []byte
	After   []byte
	// AfterFlag and Upsert apply only to Update entries (spec.md §3: Update
	// carries `after: bool` and `upsert: bool`).
	AfterFlag bool
	Upsert    bool
}

// MarshalBinary serializes the entry with a trailing CRC32 (IEEE).
func (e JournalEntry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 64+len(e.Before)+len(e.After))
	buf = append(buf, byte(e.Kind))

	var txBuf [8]byte
	binary.LittleEndian.PutUint64(txBuf[:], e.TxID)
	buf = append(buf, txBuf[:]...)

	// Unset (zero-value) ids are written as 0 so entries that use only TxID
	// still parse back.
	tableID, rowID := e.TableID, e.RowID
	if tableID.Len() == 0 {
		tableID = cint.FromUint64(0)
	}
	if rowID.Len() == 0 {
		rowID = cint.FromUint64(0)
	}
	buf = append(buf, tableID.Bytes()...)
	buf = append(buf, rowID.Bytes()...)

	var flags byte
	if e.AfterFlag {
		flags |= 1
	}
	if e.Upsert {
		flags |= 2
	}
	buf = append(buf, flags)

	buf = appendLenPrefixed(buf, e.Before)
	buf = appendLenPrefixed(buf, e.After)

	crc := crc32.ChecksumIEEE(buf)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	buf = append(buf, crcBuf[:]...)
	return buf, nil
}

func appendLenPrefixed(buf, data []byte) []byte {
	length := cint.FromUint64(uint64(len(data)))
	buf = append(buf, length.Bytes()...)
	return append(buf, data...)
}

func readLenPrefixed(buf []byte) (data []byte, consumed int, err error) {
	length, n, err := cint.Decode(buf)
	if err != nil {
		return nil, 0, err
	}
	l, err := length.Uint64()
	if err != nil {
		return nil, 0, err
	}
	if n+int(l) > len(buf) {
		return nil, 0, fmt.Errorf("%w: declared length %d exceeds buffer", ErrJournalCorrupt, l)
	}
	return buf[n : n+int(l)], n + int(l), nil
}

// UnmarshalJournalEntry parses and CRC-validates a serialized JournalEntry.
func UnmarshalJournalEntry(buf []byte) (JournalEntry, error) {
	if len(buf) < 14 {
		return JournalEntry{}, fmt.Errorf("%w: too short", ErrJournalCorrupt)
	}
	body := buf[:len(buf)-4]
	storedCRC := binary.LittleEndian.Uint32(buf[len(buf)-4:])
	if crc32.ChecksumIEEE(body) != storedCRC {
		return JournalEntry{}, ErrJournalCorrupt
	}

	off := 0
	e := JournalEntry{Kind: JournalEntryKind(body[off])}
	off++
	e.TxID = binary.LittleEndian.Uint64(body[off : off+8])
	off += 8

	tableID, n, err := cint.Decode(body[off:])
	if err != nil {
		return JournalEntry{}, fmt.Errorf("table_id: %w", err)
	}
	off += n
	rowID, n, err := cint.Decode(body[off:])
	if err != nil {
		return JournalEntry{}, fmt.Errorf("row_id: %w", err)
	}
	off += n
	e.TableID, e.RowID = tableID, rowID

	flags := body[off]
	e.AfterFlag = flags&1 != 0
	e.Upsert = flags&2 != 0
	off++

	before, n, err := readLenPrefixed(body[off:])
	if err != nil {
		return JournalEntry{}, fmt.Errorf("before: %w", err)
	}
	off += n
	after, n, err := readLenPrefixed(body[off:])
	if err != nil {
		return JournalEntry{}, fmt.Errorf("after: %w", err)
	}
	off += n
	if len(before) > 0 {
		e.Before = append([]byte(nil), before...)
	}
	if len(after) > 0 {
		e.After = append([]byte(nil), after...)
	}
	return e, nil
}
