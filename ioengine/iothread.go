package ioengine

import (
	"time"

	"github.com/watchcore/watchcore/pending"
)

// ioThread is the engine's main loop: a full crawl first,
// then a wait/process/settle cycle with a doubling timeout capped at
// min(gc_interval, idle_reap_age, 86400s).
func (e *Engine) ioThread() {
	defer close(e.ioDone)

	e.queue.Wait(0) // start barrier: released by notifyThread's initial Ping.

	select {
	case <-e.stop:
		return
	default:
	}

	e.fullCrawl()

	timeout := e.cfg.TriggerSettle()
	capDur := e.timeoutCap()

	for {
		select {
		case <-e.stop:
			return
		default:
		}

		woken := e.queue.Wait(timeout)
		if !woken {
			// Timed out with nothing pending: this is itself an empty
			// wake, so settle fires and the timeout backs off.
			e.settleActions(time.Now())
			timeout = nextTimeout(timeout, capDur)
			continue
		}

		select {
		case <-e.stop:
			return
		default:
		}

		items := e.queue.Drain()
		if len(items) == 0 {
			e.settleActions(time.Now())
			timeout = nextTimeout(timeout, capDur)
			continue
		}

		e.bumpTick(time.Now())
		e.processItems(items)
		e.maybeFinishRecrawl()
		timeout = e.cfg.TriggerSettle()
	}
}

// processItems runs one drained batch through processPath. Cookie
// items are held until the rest of the batch has been applied, so
// that a waiter released by the cookie observes every event that
// preceded it even within a single batch.
func (e *Engine) processItems(items []pending.Item) {
	var cookies []pending.Item
	for _, it := range items {
		if e.cookies.IsCookie(it.Path) {
			cookies = append(cookies, it)
			continue
		}
		e.processPath(it)
	}
	for _, it := range cookies {
		e.cookies.Notify(it.Path)
	}
}

// maybeFinishRecrawl flips done_initial back on once a recrawl's
// reseeded queue has drained to a fixed point; until then queries
// report fresh_instance.
func (e *Engine) maybeFinishRecrawl() {
	if !e.IsFreshInstance() || e.queue.Len() != 0 {
		return
	}
	e.mu.Lock()
	e.doneInitial = true
	e.mu.Unlock()
}

// timeoutCap bounds the settle-wait backoff at min(gc_interval,
// idle_reap_age, 86400s), treating a zero idle_reap_age (disabled) as
// not participating in the min.
func (e *Engine) timeoutCap() time.Duration {
	capDur := 24 * time.Hour
	if gc := e.cfg.GCInterval(); gc > 0 && gc < capDur {
		capDur = gc
	}
	if reap := e.cfg.IdleReapAge(); reap > 0 && reap < capDur {
		capDur = reap
	}
	return capDur
}

func nextTimeout(cur, capDur time.Duration) time.Duration {
	next := cur * 2
	if next <= 0 || next > capDur {
		return capDur
	}
	return next
}
