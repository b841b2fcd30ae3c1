package ioengine

import (
	"time"

	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/pending"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/werrors"
)

// fullCrawl performs the initial crawl: bump ticks, seed
// pending with the root, then process to a fixed point before serving
// any query.
func (e *Engine) fullCrawl() {
	now := time.Now()
	e.bumpTick(now)
	e.queue.Add(e.RootPath, now, pending.Recursive|pending.CrawlOnly)

	for {
		items := e.queue.Drain()
		if len(items) == 0 {
			break
		}
		e.processItems(items)
	}

	e.mu.Lock()
	e.doneInitial = true
	e.mu.Unlock()
}

// processPath routes one pending item: cookies are
// intercepted before they ever reach the tree; the root and any
// CRAWL_ONLY item go to the crawler, everything else to statPath.
func (e *Engine) processPath(item pending.Item) {
	if e.cookies.IsCookie(item.Path) {
		e.cookies.Notify(item.Path)
		return
	}
	if e.isIgnored(item.Path) {
		return
	}
	if item.Path == e.RootPath || item.Flags.Has(pending.CrawlOnly) {
		e.crawler(item)
		return
	}
	e.statPath(item)
}

// crawler opens a directory, diffs its listing against the shadow
// tree, and enqueues newly observed or recursively-required children
// for further processing.
func (e *Engine) crawler(item pending.Item) {
	path := item.Path
	now := item.Timestamp
	recursive := item.Flags.Has(pending.Recursive)

	e.mu.Lock()
	dir := e.view.ResolveDir(path, true)
	e.mu.Unlock()

	// readdir is a suspension point; it runs with no lock
	// held so client threads can still take inner's read lock.
	entries, err := afero.ReadDir(e.fs, path)
	if err != nil {
		e.mu.Lock()
		e.handleCrawlErrorLocked(dir, path, err, now)
		e.mu.Unlock()
		return
	}

	if err := e.w.StartWatchDir(path); err != nil {
		e.handleWatchError(path, err)
	}

	if path == e.RootPath {
		e.checkRootInode(path, now)
	}

	// Ignored VCS directories under the root are skipped from the tree
	// but still watched (the cookie directory may live there); watch
	// installation happens after the lock is released.
	var ignoredWatch []string

	// A directory's link count is 2 plus one per subdirectory, so it
	// gives the number of child directories; where the filesystem
	// reports nothing useful, the configured hint is used instead.
	hint := e.cfg.HintNumFilesPerDir
	dirHint := hint
	if fi, err := e.fs.Stat(path); err == nil {
		if n := toStat(fi).Nlink; n > 2 {
			dirHint = int(n - 2)
		}
	}

	e.mu.Lock()
	tick := e.cur.Ticks

	dir.ReserveChildren(dirHint, hint)

	for _, f := range dir.Files {
		f.MaybeDeleted = true
	}
	seenDirs := make(map[string]bool, len(dir.Dirs))

	for _, info := range entries {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		childPath := path + "/" + name
		if e.cookies.IsCookie(childPath) {
			e.cookies.Notify(childPath)
			continue
		}
		if e.ignoreDirs[name] && info.IsDir() && path == e.RootPath {
			ignoredWatch = append(ignoredWatch, childPath)
			continue
		}

		if info.IsDir() {
			seenDirs[name] = true
			existed := dir.GetChildDir(name) != nil
			child := e.view.ResolveDir(childPath, true)
			child.LastCheckExisted = true
			if !existed || recursive {
				e.queue.Add(childPath, now, crawlFlags(recursive))
			}
			continue
		}

		existed := dir.GetChildFile(name) != nil
		f := e.view.GetOrCreateChildFile(dir, name, tick, now)
		f.MaybeDeleted = false
		if !existed || recursive {
			e.queue.Add(childPath, now, statFlags(recursive))
		}
	}

	for name, f := range dir.Files {
		if f.MaybeDeleted {
			e.queue.Add(path+"/"+name, now, statFlags(true))
		}
	}
	for name, sub := range dir.Dirs {
		if !seenDirs[name] {
			e.view.MarkDirDeleted(sub, tick, now, true)
			_ = e.w.StopWatchDir(path + "/" + name)
		}
	}
	e.mu.Unlock()

	for _, p := range ignoredWatch {
		if err := e.w.StartWatchDir(p); err != nil {
			e.handleWatchError(p, err)
		}
	}
}

func crawlFlags(recursive bool) pending.Flags {
	f := pending.CrawlOnly
	if recursive {
		f |= pending.Recursive
	}
	return f
}

func statFlags(recursive bool) pending.Flags {
	if recursive {
		return pending.Recursive
	}
	return 0
}

// handleCrawlErrorLocked applies the directory-open error handling
// policy: expected ENOENT-class conditions mark the directory
// deleted, and cancel the watch only when the directory is the root
// itself; anything else is merely logged.
// The caller must already hold e.mu.
func (e *Engine) handleCrawlErrorLocked(dir *tree.Dir, path string, err error, now time.Time) {
	classified := werrors.FromStatError(err)
	if werrors.IsENOENTClass(classified) {
		e.view.MarkDirDeleted(dir, e.cur.Ticks, now, true)
		_ = e.w.StopWatchDir(path)
		e.retargetCookies(path)
		if path == e.RootPath {
			e.log.WithError(err).Error("root directory vanished; canceling watch")
			e.Stop()
		}
		return
	}
	e.log.WithError(err).Warn("failed to open directory")
}

// handleWatchError classifies a StartWatchDir/StartWatchFile failure:
// watch-descriptor exhaustion poisons the root; everything else is
// transient and logged.
func (e *Engine) handleWatchError(path string, err error) {
	classified := werrors.FromStatError(err)
	if werrors.IsPoisoning(classified) {
		e.poison(classified)
		return
	}
	if werrors.IsENOENTClass(classified) {
		e.log.WithError(err).WithField("path", path).Debug("watch target vanished before it could be watched")
		return
	}
	e.log.WithError(err).WithField("path", path).Warn("installing watch failed")
}

// checkRootInode re-stats the root on every root-directory crawl and
// schedules a recrawl if its inode changed (the root was replaced,
// e.g. a symlinked mountpoint swap).
func (e *Engine) checkRootInode(path string, now time.Time) {
	fi, err := e.fs.Stat(path)
	if err != nil {
		return
	}
	st := toStat(fi)
	e.mu.Lock()
	prev := e.rootInode
	first := prev == 0
	e.rootInode = st.Ino
	e.mu.Unlock()
	if !first && st.Ino != 0 && st.Ino != prev {
		e.log.Warn("root inode changed; scheduling recrawl")
		e.scheduleRecrawl(now)
	}
}
