package clock

import "sync"

// CursorMap is the "cursor-name → last returned tick" table. It
// lives under the root's inner lock in rootcore; the mutex here is a
// second, finer-grained guard so the type remains independently
// testable and safe if ever accessed off that path.
type CursorMap struct {
	mu sync.Mutex
	m  map[string]uint32
}

// NewCursorMap creates an empty cursor table.
func NewCursorMap() *CursorMap {
	return &CursorMap{m: make(map[string]uint32)}
}

func (c *CursorMap) get(name string) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[name]
	return v, ok
}

func (c *CursorMap) set(name string, ticks uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[name] = ticks
}

// Resolution is the outcome of resolving a Spec against a root's
// current state.
type Resolution struct {
	// EffectiveTicks is the tick value the query generator should
	// treat as "since" (files with otime.ticks strictly greater than
	// this are newer than the query's view).
	EffectiveTicks uint32
	// IsFresh marks that the caller's prior view cannot be trusted and
	// the response must declare is_fresh_instance.
	IsFresh bool
	// BumpTick tells the caller (which owns the root tick counter) to
	// increment it by one before finishing this query. Set only for
	// read/write resolution of a cursor or clock spec whose ticks
	// equal the current tick.
	BumpTick bool
}

// ResolveReadOnly is the read-only resolution path: it never mutates
// the cursor map or the tick counter. Used for
// subscription/trigger internal bookkeeping that must not perturb
// client-visible cursor state.
func ResolveReadOnly(spec Spec, cur Clock, lastAgeOutTick uint32, cursors *CursorMap) Resolution {
	return resolve(spec, cur, lastAgeOutTick, cursors, false)
}

// ResolveReadWrite is the read/write resolution path: in addition to
// computing the resolution, it updates the cursor map entry (if a
// named cursor was used) to reflect this resolve.
func ResolveReadWrite(spec Spec, cur Clock, lastAgeOutTick uint32, cursors *CursorMap) Resolution {
	return resolve(spec, cur, lastAgeOutTick, cursors, true)
}

func resolve(spec Spec, cur Clock, lastAgeOutTick uint32, cursors *CursorMap, write bool) Resolution {
	switch spec.Kind {
	case KindNone:
		return applyFreshness(0, lastAgeOutTick, cur, write)

	case KindTimestamp:
		// Timestamp clockspecs are compared against file mtimes/otime
		// timestamps directly by the query engine (since term, time
		// generator); there is no tick-space equivalent, so we report
		// ticks 0 and let the caller branch on spec.Kind for the
		// timestamp itself.
		return Resolution{EffectiveTicks: 0, IsFresh: false}

	case KindCursor:
		ticks, known := cursors.get(spec.Cursor)
		if !known {
			// An unknown cursor is always fresh.
			res := applyFreshness(0, lastAgeOutTick, cur, write)
			res.IsFresh = true
			if write {
				cursors.set(spec.Cursor, nextCursorValue(cur, res.BumpTick))
			}
			return res
		}
		res := applyFreshness(ticks, lastAgeOutTick, cur, write)
		if write {
			cursors.set(spec.Cursor, nextCursorValue(cur, res.BumpTick))
		}
		return res

	case KindClock:
		if !cur.SameIncarnation(spec.ClockVal.Incarnation) {
			// Different incarnation (process restart, recrawl, or the
			// legacy two-field form): always a fresh instance with
			// ticks zero.
			return Resolution{EffectiveTicks: 0, IsFresh: true}
		}
		return applyFreshness(spec.ClockVal.Ticks, lastAgeOutTick, cur, write)

	default:
		return Resolution{EffectiveTicks: 0, IsFresh: true}
	}
}

// applyFreshness applies the shared ticks-below-last-age-out-means-
// fresh rule and, in write mode, the tick-bump rule: when the incoming
// clock equals the current tick, the tick is bumped by one. That keeps
// a client that queries twice in a row with no intervening change from
// ever observing the same clock value twice.
func applyFreshness(ticks, lastAgeOutTick uint32, cur Clock, write bool) Resolution {
	res := Resolution{EffectiveTicks: ticks}
	if ticks < lastAgeOutTick {
		res.IsFresh = true
	}
	if write && ticks == cur.Ticks {
		res.BumpTick = true
	}
	return res
}

// nextCursorValue computes the value stored into the cursor map for
// this resolve, accounting for whether the tick was just bumped.
func nextCursorValue(cur Clock, bumped bool) uint32 {
	if bumped {
		return cur.Ticks + 1
	}
	return cur.Ticks
}
