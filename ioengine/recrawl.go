package ioengine

import (
	"time"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/pending"
	"github.com/watchcore/watchcore/tree"
)

// scheduleRecrawl discards the in-memory view, bumps the root's
// incarnation so in-flight clock strings from before the recrawl are
// recognized as stale, and reseeds the pending queue with a fresh
// recursive crawl of the root. It is called from
// the IO thread (crawler/checkRootInode) and from the notify thread on
// a kernel overflow, and never blocks on either thread — only the view
// and clock state are swapped; the notify/IO goroutines keep running.
func (e *Engine) scheduleRecrawl(now time.Time) {
	e.mu.Lock()
	e.recrawlCount++
	e.cur.RootNumber = clock.NextRootNumber()
	e.cur.Ticks = 0
	e.view = tree.New(e.RootPath)
	e.doneInitial = false
	e.rootInode = 0
	e.mu.Unlock()

	e.queue.Drain() // discard anything queued against the stale view
	e.queue.Add(e.RootPath, now, pending.Recursive|pending.CrawlOnly)
}
