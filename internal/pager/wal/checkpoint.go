package wal

import "sort"

// Mode selects how aggressively Checkpoint drains the WAL into the main
// database file (spec.md §4.6).
type Mode int

const (
	// ModePassive checkpoints whatever it can without blocking readers.
	ModePassive Mode = iota
	// ModeFull checkpoints every committed frame, even with readers present.
	ModeFull
	// ModeRestart is Full followed by restarting the WAL (callers should
	// call Writer.Reset after a successful Restart checkpoint).
	ModeRestart
	// ModeTruncate completes under the same rule as ModeFull. Checkpoint
	// does not truncate or otherwise modify any WAL storage.
	ModeTruncate
)

// PageUpdate is one page's checkpointed data, destined for the main
// database file.
type PageUpdate struct {
	PageNumber uint32
	Data       []byte
}

// Result summarizes one checkpoint operation.
type Result struct {
	WALFrames         int
	CheckpointedFrames int
	Completed         bool
}

// Checkpointer extracts committed page updates out of a Reader.
type Checkpointer struct {
	pageSize uint32
}

// NewCheckpointer returns a Checkpointer for the given page size.
func NewCheckpointer(pageSize uint32) *Checkpointer {
	return &Checkpointer{pageSize: pageSize}
}

// Checkpoint collects every page updated up to and including the WAL's
// last commit frame, deduplicated to each page's most recent version, and
// sorted ascending by page number for deterministic application order.
func (c *Checkpointer) Checkpoint(r *Reader, mode Mode) ([]PageUpdate, Result) {
	frames := r.Frames()
	lastCommit := r.lastCommitIndex()

	updates := map[uint32][]byte{}
	checkpointed := 0
	if lastCommit >= 0 {
		for i := 0; i <= lastCommit; i++ {
			updates[frames[i].Header.PageNumber] = frames[i].Data
		}
		checkpointed = lastCommit + 1
	}

	pageNums := make([]uint32, 0, len(updates))
	for pn := range updates {
		pageNums = append(pageNums, pn)
	}
	sort.Slice(pageNums, func(i, j int) bool { return pageNums[i] < pageNums[j] })

	out := make([]PageUpdate, 0, len(pageNums))
	for _, pn := range pageNums {
		out = append(out, PageUpdate{PageNumber: pn, Data: updates[pn]})
	}

	completed := false
	switch mode {
	case ModePassive:
		completed = checkpointed > 0
	case ModeFull, ModeRestart, ModeTruncate:
		completed = checkpointed == len(frames)
	}

	return out, Result{WALFrames: len(frames), CheckpointedFrames: checkpointed, Completed: completed}
}
