package ioengine

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/watchcore/watchcore/pending"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/watcher"
	"github.com/watchcore/watchcore/werrors"
)

// statPath reconciles one pending path: resolve parent/child,
// stat the path, and reconcile the shadow tree with what was observed.
func (e *Engine) statPath(item pending.Item) {
	path := item.Path
	now := item.Timestamp
	parentPath, name := splitPath(path)

	// stat is a suspension point; run it before taking
	// inner's lock so client reads aren't blocked on it.
	// lstat, where the filesystem supports it, so a symlink is seen as
	// a symlink rather than as its target.
	var fi os.FileInfo
	var statErr error
	if ls, ok := e.fs.(afero.Lstater); ok {
		fi, _, statErr = ls.LstatIfPossible(path)
	} else {
		fi, statErr = e.fs.Stat(path)
	}
	var symlinkTarget string
	if statErr == nil && fi.Mode()&os.ModeSymlink != 0 {
		symlinkTarget = readSymlink(e.fs, path)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tick := e.cur.Ticks

	parentDir := e.view.ResolveDir(parentPath, true)
	childFile := parentDir.GetChildFile(name)
	childDir := parentDir.GetChildDir(name)

	if statErr != nil {
		e.statPathErrorLocked(parentDir, parentPath, path, name, childFile, childDir, statErr, now, tick)
		return
	}

	if fi.IsDir() {
		// A file node at this path means the path changed type; the
		// old file identity is dead.
		wasFile := childFile != nil && childFile.Exists
		if wasFile {
			childFile.Exists = false
			e.view.MarkFileChanged(childFile, tick, now)
		}
		dirNode := e.view.ResolveDir(path, true)
		dirNode.LastCheckExisted = true
		// Newly-discovered or type-changed directories crawl their
		// whole subtree; a known directory re-crawls shallowly, and
		// only when the kernel said something happened here — a bare
		// re-stat of a known dir must not re-walk it, or per-file
		// watcher parent refreshes would cascade forever.
		deep := childDir == nil || wasFile || item.Flags.Has(pending.Recursive)
		if deep || item.Flags.Has(pending.ViaNotify) {
			e.queue.Add(path, now, crawlFlags(deep))
		}
		return
	}

	wasDeleted := childFile == nil || !childFile.Exists
	f := e.view.GetOrCreateChildFile(parentDir, name, tick, now)

	changed := false
	if wasDeleted {
		f.CTimeTicks = tick
		f.CTimeStamp = now
		changed = true
	}
	if !f.Exists {
		f.Exists = true
		changed = true
	}
	if item.Flags.Has(pending.ViaNotify) {
		changed = true
	}

	newStat := toStat(fi)
	if !statEqual(f.Stat, newStat) {
		changed = true
	}
	f.Stat = newStat

	if fi.Mode()&os.ModeSymlink != 0 {
		if symlinkTarget != f.SymlinkTarget {
			f.SymlinkTarget = symlinkTarget
			if e.cfg.WatchSymlinks {
				e.pendingSymlinkTargets = append(e.pendingSymlinkTargets, symlinkTarget)
			}
		}
	} else {
		f.SymlinkTarget = ""
	}

	if changed {
		e.view.MarkFileChanged(f, tick, now)
	}

	if e.w.Flags().Has(watcher.HasPerFileNotifications) {
		// These backends only report changes for paths they watch
		// individually, so every observed file gets its own watch, and
		// the parent is nudged to refresh its own mtime (a per-file
		// event doesn't imply a directory-level one).
		if err := e.w.StartWatchFile(path); err != nil {
			e.handleWatchError(path, err)
		}
		e.queue.Add(parentPath, now, 0)
	}
}

// statPathErrorLocked handles statPath's stat-failure branch.
// The caller must already hold e.mu.
func (e *Engine) statPathErrorLocked(parentDir *tree.Dir, parentPath, path, name string, childFile *tree.File, childDir *tree.Dir, err error, now time.Time, tick uint32) {
	classified := werrors.FromStatError(err)
	if werrors.IsENOENTClass(classified) {
		// A node marked exists=false must leave no kernel watch
		// behind.
		_ = e.w.StopWatchDir(path)
		if childDir != nil {
			e.view.MarkDirDeleted(childDir, tick, now, true)
			e.retargetCookies(path)
		}
		if childFile != nil {
			if childFile.Exists {
				childFile.Exists = false
				e.view.MarkFileChanged(childFile, tick, now)
			}
		} else if childDir == nil {
			f := e.view.GetOrCreateChildFile(parentDir, name, tick, now)
			f.Exists = false
			e.view.MarkFileChanged(f, tick, now)
		}
		if e.caseInsensitiveFS() {
			e.queue.Add(parentPath, now, pending.CrawlOnly)
		}
		if path == e.RootPath {
			e.log.Error("root directory vanished; canceling watch")
			e.Stop()
		}
		return
	}
	e.log.WithError(err).Warn("stat failed")
}

func (e *Engine) caseInsensitiveFS() bool {
	return runtime.GOOS == "darwin" || runtime.GOOS == "windows"
}

func splitPath(path string) (dir, base string) {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func statEqual(a, b tree.Stat) bool {
	return a.Mode == b.Mode && a.Size == b.Size && a.Mtime.Equal(b.Mtime) && a.Ino == b.Ino && a.Nlink == b.Nlink
}
