package checkpoint

import (
	"context"
	"sync"
	"time"
)

// Committer decides when the watermark is written to the store: at most
// once per interval from Maybe, and unconditionally from Commit.
type Committer struct {
	store Store
	key   string
	wm    *Watermark
	every time.Duration

	mu        sync.Mutex
	last      time.Time
	committed int64
}

func NewCommitter(store Store, key string, wm *Watermark, every time.Duration) *Committer {
	return &Committer{store: store, key: key, wm: wm, every: every, committed: wm.Highest()}
}

// Maybe commits when the interval has elapsed and the watermark moved.
func (c *Committer) Maybe(ctx context.Context) (int64, bool, error) {
	c.mu.Lock()
	due := c.last.IsZero() || time.Since(c.last) >= c.every
	c.mu.Unlock()
	if !due {
		return c.Committed(), false, nil
	}
	return c.commit(ctx, false)
}

func (c *Committer) Commit(ctx context.Context) (int64, error) {
	off, _, err := c.commit(ctx, true)
	return off, err
}

func (c *Committer) commit(ctx context.Context, force bool) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hi := c.wm.Highest()
	c.last = time.Now()
	if hi == c.committed && !force {
		return hi, false, nil
	}
	if err := c.store.Commit(ctx, c.key, hi); err != nil {
		return c.committed, false, err
	}
	c.committed = hi
	return hi, true, nil
}

func (c *Committer) Committed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

func (c *Committer) Watermark() *Watermark { return c.wm }
