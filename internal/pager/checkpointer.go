package pager

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// CheckpointFunc performs one checkpoint pass. Pager.PassiveCheckpointFunc
// returns the real implementation for a Pager running in WAL mode.
type CheckpointFunc func() error

// Checkpointer drives periodic passive checkpoints on a cron schedule,
// mirroring the teacher's internal/storage.Scheduler but driving a
// checkpoint callback instead of SQL jobs.
type Checkpointer struct {
	mu     sync.Mutex
	cron   *cron.Cron
	fn     CheckpointFunc
	entry  cron.EntryID
	active bool
}

// NewCheckpointer builds a Checkpointer that is not yet started.
func NewCheckpointer(fn CheckpointFunc) *Checkpointer {
	return &Checkpointer{cron: cron.New(), fn: fn}
}

// Start schedules fn on expr (a standard 5-field cron expression, or a
// "@every 5m"-style descriptor) and begins running it in the background.
// Calling Start while already running replaces the existing schedule.
func (c *Checkpointer) Start(expr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		c.cron.Remove(c.entry)
	}

	id, err := c.cron.AddFunc(expr, func() {
		if err := c.fn(); err != nil {
			log.Printf("pager: scheduled checkpoint failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	c.entry = id
	if !c.active {
		c.cron.Start()
		c.active = true
	}
	return nil
}

// Stop halts the background schedule; safe to call even if never started.
func (c *Checkpointer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.active = false
}
