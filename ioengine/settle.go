package ioengine

import (
	"time"

	"github.com/watchcore/watchcore/pathutil"
)

// errReaped is poisoned onto a root canceled for sitting idle past
// idle_reap_age, so Poisoned() callers (and tests) can tell a reap
// apart from a SystemLimitsExceeded poison.
var errReaped = errReapedErr{}

type errReapedErr struct{}

func (errReapedErr) Error() string { return "ioengine: root reaped after idle timeout" }

// settleActions fires settle-time work once the IO loop times out
// waiting on the pending queue with nothing pending.
func (e *Engine) settleActions(now time.Time) {
	e.processSymlinkTargets(now)

	e.dispatcher.DispatchSettle(now)
	e.publisher.PublishSettled()

	if e.considerReap(now) {
		return
	}
	e.ageOut(now)
}

// processSymlinkTargets re-stats every symlink target recorded by
// statPath since the last settle.
func (e *Engine) processSymlinkTargets(now time.Time) {
	e.mu.Lock()
	targets := e.pendingSymlinkTargets
	e.pendingSymlinkTargets = nil
	e.mu.Unlock()

	for _, target := range targets {
		if target == "" {
			continue
		}
		// Targets outside this root aren't ours to track; watching
		// them would mean resolving and possibly watching an entirely
		// separate root, which is out of scope here.
		if !pathutil.IsPrefixOf(e.RootPath, target) {
			continue
		}
		e.queue.Add(target, now, 0)
	}
}

// considerReap cancels an idle root past idle_reap_age (0 disables
// reap) and reports whether it did so.
func (e *Engine) considerReap(now time.Time) bool {
	reapAge := e.cfg.IdleReapAge()
	if reapAge <= 0 {
		return false
	}
	if e.idleFor(now) <= reapAge {
		return false
	}
	e.log.Warn("root idle past idle_reap_age; canceling watch")
	e.poison(errReaped)
	e.Stop()
	return true
}
