package ioengine

import (
	"time"

	"github.com/watchcore/watchcore/tree"
)

// ageOut walks the most-recently-changed list tail-first, reclaiming
// any node that has been !exists for at least minAge, and advances
// last_age_out_tick to the highest otime tick among the nodes it
// reclaimed; a pass that reclaims nothing leaves it unchanged.
func (e *Engine) ageOut(now time.Time) {
	minAge := e.cfg.GCAge()

	e.mu.Lock()
	defer e.mu.Unlock()

	var highest uint32
	touchedDirs := make(map[*tree.Dir]bool)

	for f := e.tailWalkStart(); f != nil; {
		next := tree.MRCPrev(f) // moves toward the head as we reclaim from the tail
		if !f.Exists && now.Sub(f.OTime.Timestamp) >= minAge {
			if f.OTime.Ticks > highest {
				highest = f.OTime.Ticks
			}
			dir := f.Parent
			e.view.RemoveFile(f)
			touchedDirs[dir] = true
		}
		f = next
	}

	for dir := range touchedDirs {
		e.reapEmptyAncestors(dir)
	}

	if highest > e.lastAgeOutTick {
		e.lastAgeOutTick = highest
	}
}

// tailWalkStart returns the tail (oldest) node of the
// most-recently-changed list by following Next pointers from the head.
func (e *Engine) tailWalkStart() *tree.File {
	f := e.view.MostRecentHead()
	if f == nil {
		return nil
	}
	for {
		next := tree.MRCNext(f)
		if next == nil {
			return f
		}
		f = next
	}
}

// reapEmptyAncestors removes dir, and any now-empty ancestor, from the
// tree once its last file has aged out.
func (e *Engine) reapEmptyAncestors(dir *tree.Dir) {
	for dir != nil {
		if !e.view.RemoveEmptyDir(dir) {
			return
		}
		dir = dir.Parent
	}
}
