package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrTimedOut is returned by CookieSet.SyncToNow when the deadline
// passes before the cookie is observed by the IO thread.
var ErrTimedOut = errors.New("clock: sync timed out")

// ErrAbandoned is returned by SyncToNow when the root is canceled
// while the sync is still in flight; the cookie was never observed,
// so the caller must not assume causality.
var ErrAbandoned = errors.New("clock: root canceled while sync in flight")

// CookiePrefix names the files CookieSet creates. They are never
// reported to clients; the IO thread recognizes them by
// this prefix and does not insert them into the tree.
const CookiePrefix = ".watchcore-cookie-"

// CookieSet implements the sync rendezvous protocol: a
// uniquely-named empty file is created under a cookie directory, and
// SyncToNow blocks until the IO thread's processPath sees that exact
// path pass through the pending pipeline and calls Notify.
type CookieSet struct {
	fs afero.Fs

	mu      sync.Mutex
	dir     string
	pending map[string]chan error
}

// NewCookieSet creates a CookieSet rooted at dir (normally the watch
// root, or a VCS subdirectory — see SetDir).
func NewCookieSet(fs afero.Fs, dir string) *CookieSet {
	return &CookieSet{fs: fs, dir: dir, pending: make(map[string]chan error)}
}

// Dir returns the current cookie directory.
func (c *CookieSet) Dir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

// SetDir re-targets the cookie directory, e.g. after the previous
// cookie directory (a VCS subdir) was removed and syncToNow must
// retarget to the watch root.
func (c *CookieSet) SetDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = dir
}

// IsCookie reports whether full is a path this CookieSet would have
// created, so the IO thread can route it to Notify instead of the
// tree.
func (c *CookieSet) IsCookie(full string) bool {
	c.mu.Lock()
	prefix := c.dir + "/" + CookiePrefix
	c.mu.Unlock()
	return len(full) >= len(prefix) && full[:len(prefix)] == prefix
}

// SyncToNow creates a cookie file and blocks until it is observed
// (Notify is called with the same path) or timeout elapses. It
// returns the cookie path that was created, primarily for logging.
func (c *CookieSet) SyncToNow(ctx context.Context, timeout time.Duration) (string, error) {
	c.mu.Lock()
	dir := c.dir
	c.mu.Unlock()

	name := fmt.Sprintf("%s%s", CookiePrefix, uuid.NewString())
	full := dir + "/" + name

	ch := make(chan error, 1)
	c.mu.Lock()
	c.pending[full] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, full)
		c.mu.Unlock()
		_ = c.fs.Remove(full)
	}

	if err := afero.WriteFile(c.fs, full, nil, 0644); err != nil {
		c.mu.Lock()
		delete(c.pending, full)
		c.mu.Unlock()
		return full, fmt.Errorf("clock: creating cookie %s: %w", full, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		_ = c.fs.Remove(full)
		return full, err
	case <-timer.C:
		cleanup()
		return full, ErrTimedOut
	case <-ctx.Done():
		cleanup()
		return full, ctx.Err()
	}
}

// Notify signals the waiter for full, if any, and reports whether full
// was in fact a pending cookie (so the caller knows not to insert it
// into the tree).
func (c *CookieSet) Notify(full string) bool {
	c.mu.Lock()
	ch, ok := c.pending[full]
	if ok {
		delete(c.pending, full)
	}
	c.mu.Unlock()
	if ok {
		ch <- nil
	}
	return ok
}

// Abandon fails every outstanding waiter with ErrAbandoned, used when
// the root is canceled while a sync is in flight.
func (c *CookieSet) Abandon() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan error)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- ErrAbandoned
	}
}
