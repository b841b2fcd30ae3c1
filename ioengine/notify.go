package ioengine

import "time"

// notifyBatchLimit caps how many ConsumeNotify calls (each of which
// drains everything the Watcher has buffered) one wake-up makes before
// the notify thread pings the IO thread and goes back to waiting.
// Events go straight into the shared queue, without a second
// thread-local scratch list: watcher.Watcher
// already buffers internally, and pending.Queue's trie coalesces on
// insert, so writing straight into the shared queue is equivalent to
// building a scratch list and splicing it.
const notifyBatchLimit = 4096

// notifyThread drains the kernel into the pending queue as fast as
// possible.
func (e *Engine) notifyThread() {
	defer close(e.notifyDone)

	// Release the IO thread's start barrier.
	e.queue.Ping()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		if !e.w.WaitNotify(24 * time.Hour) {
			continue
		}

		if err := e.drainLimiter.Wait(e.ctx); err != nil {
			return
		}

		now := time.Now()
		drained := 0
		for drained < notifyBatchLimit {
			added, cancelSelf := e.w.ConsumeNotify(e.RootPath, e.queue, now)
			if cancelSelf {
				e.log.Error("watcher reported an unrecoverable error; canceling root")
				e.poison(errWatcherUnrecoverable)
				e.Stop()
				return
			}
			if !added {
				break
			}
			drained++
		}
		if e.w.TakeOverflow() {
			e.log.Warn("kernel event queue overflowed; scheduling recrawl")
			e.scheduleRecrawl(now)
		}
		if drained > 0 {
			e.queue.Ping()
		}
	}
}
