// Package watcher implements the polymorphic Watcher capability: the
// seam between the notify/IO threads in ioengine and a per-OS kernel
// event source (watcher/kernel). The core (ioengine, tree, query, ...)
// only ever sees this interface and never needs to know whether
// inotify, kqueue, or a polling fallback is underneath.
package watcher

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/watchcore/watchcore/pathutil"
	"github.com/watchcore/watchcore/pending"
	"github.com/watchcore/watchcore/watcher/kernel"
)

// Capability re-exports kernel.Capability so callers outside this
// package don't need to import kernel directly.
type Capability = kernel.Capability

const (
	HasPerFileNotifications    = kernel.HasPerFileNotifications
	CoalescedRename            = kernel.CoalescedRename
	OnlyDirectoryNotifications = kernel.OnlyDirectoryNotifications
	HasSplitWatch              = kernel.HasSplitWatch
)

// ErrUnrecoverable marks a Source error that cancels the whole root:
// ConsumeNotify reports cancelSelf for any Source error that is or
// wraps it, and for kernel.ErrClosed.
var ErrUnrecoverable = errors.New("watcher: unrecoverable error")

// Watcher is the kernel-facing abstraction: start, per-dir
// watch installation, notify draining, and the wait/wake pair used by
// the notify thread and shutdown path. A background pump goroutine
// copies the underlying Source's Events/Errors channels into an
// internal buffer so that WaitNotify (block until something is ready)
// and ConsumeNotify (drain without blocking) can be separate calls
// without racing to "peek" a plain channel.
type Watcher struct {
	src   kernel.Source
	flags Capability

	mu         sync.Mutex
	events     []kernel.Event
	errs       []error
	unrec      bool
	overflow   bool
	sourceGone bool

	ready chan struct{} // buffered(1): something is in events/errs/unrec
	stop  chan struct{}
	done  chan struct{}
}

// New wraps a kernel.Source as a Watcher and starts its pump
// goroutine. The Source must already be constructed (NewInotifySource,
// NewKqueueSource, NewPollingSource, ...); New performs no further
// OS-level setup, keeping Start a
// distinct step from construction.
func New(src kernel.Source) *Watcher {
	w := &Watcher{
		src:   src,
		flags: src.Capabilities(),
		ready: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go w.pump()
	return w
}

func (w *Watcher) pump() {
	defer close(w.done)
	events := w.src.Events()
	errs := w.src.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				w.markSourceGone()
				continue
			}
			w.mu.Lock()
			w.events = append(w.events, ev)
			w.mu.Unlock()
			w.markReady()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				w.markSourceGone()
				continue
			}
			w.mu.Lock()
			switch {
			case isUnrecoverable(err):
				w.unrec = true
			case errors.Is(err, kernel.ErrEventOverflow):
				// Events were dropped by the kernel; the caller must
				// recrawl rather than trust the stream.
				w.overflow = true
			default:
				w.errs = append(w.errs, err)
			}
			w.mu.Unlock()
			w.markReady()
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) markReady() {
	select {
	case w.ready <- struct{}{}:
	default:
	}
}

func (w *Watcher) markSourceGone() {
	w.mu.Lock()
	w.sourceGone = true
	w.mu.Unlock()
	w.markReady()
}

// Flags reports this Watcher's fixed capability bits, consulted by
// ioengine's statPath/crawler policy.
func (w *Watcher) Flags() Capability { return w.flags }

// Start initializes kernel resources for root. The Source is already
// live by construction, so Start validates the root is watchable by
// installing the first directory watch; ioengine calls StartWatchDir
// for every directory it discovers thereafter, including the root
// itself on the initial full crawl.
func (w *Watcher) Start(root string) error {
	return w.StartWatchDir(root)
}

// StartWatchDir opens dir for reading and installs a per-dir watch.
// It is idempotent, matching kernel.Source.Add's contract.
func (w *Watcher) StartWatchDir(dir string) error {
	return w.src.Add(dir)
}

// StartWatchFile installs a per-file watch. statPath calls it for
// files on backends with HasPerFileNotifications (kqueue); it is kept
// as its own call so a HasSplitWatch backend can route file-level
// watches differently from directory ones.
func (w *Watcher) StartWatchFile(path string) error {
	return w.src.Add(path)
}

// StopWatchDir removes a previously installed watch, used when the
// crawler discovers a directory no longer exists.
func (w *Watcher) StopWatchDir(dir string) error {
	err := w.src.Remove(dir)
	if errors.Is(err, kernel.ErrNonExistentWatch) {
		return nil
	}
	return err
}

// StopWatchFile removes a per-file watch installed by StartWatchFile,
// keeping the invariant that exists=false implies the kernel watch
// for the file has been dropped.
func (w *Watcher) StopWatchFile(path string) error {
	return w.StopWatchDir(path)
}

// WaitNotify blocks until an event, error, or source-closed condition
// is pending, or until timeout elapses; it returns whether something
// is ready for ConsumeNotify to drain. A zero or negative timeout
// waits forever.
func (w *Watcher) WaitNotify(timeout time.Duration) bool {
	if w.hasBuffered() {
		return true
	}
	if timeout <= 0 {
		select {
		case <-w.ready:
			return true
		case <-w.stop:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.ready:
		return true
	case <-timer.C:
		return false
	case <-w.stop:
		return false
	}
}

func (w *Watcher) hasBuffered() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events) > 0 || len(w.errs) > 0 || w.unrec || w.overflow || w.sourceGone
}

// ConsumeNotify drains every event currently buffered from the kernel
// Source (without blocking) into q, applying the recursive-subsumption
// rules via pending.Queue.Add. It returns whether anything was added
// and whether the caller should cancel the root. root scopes
// the parent-directory re-crawl below: a create/remove/rename changes
// the containing directory's listing, so its parent is enqueued
// CRAWL_ONLY alongside the path itself — but never a directory outside
// the watched root.
func (w *Watcher) ConsumeNotify(root string, q *pending.Queue, now time.Time) (addedPending bool, cancelSelf bool) {
	w.mu.Lock()
	events := w.events
	w.events = nil
	unrec := w.unrec
	gone := w.sourceGone
	w.errs = nil
	w.mu.Unlock()

	for _, ev := range events {
		q.Add(ev.Name, now, pending.ViaNotify)
		addedPending = true
		if ev.Op.Has(kernel.Create) || ev.Op.Has(kernel.Remove) || ev.Op.Has(kernel.Rename) {
			parent := parentOf(ev.Name)
			if parent == root || (parent != "" && pathutil.IsPrefixOf(root, parent)) {
				q.Add(parent, now, pending.ViaNotify|pending.CrawlOnly)
			}
		}
	}
	return addedPending, unrec || gone
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// TakeOverflow reports and clears the sticky overflow flag set when
// the kernel dropped events; the caller reacts by scheduling a
// recrawl.
func (w *Watcher) TakeOverflow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	v := w.overflow
	w.overflow = false
	return v
}

// isUnrecoverable classifies a Source-level error: kernel.ErrClosed
// and anything wrapping ErrUnrecoverable cancel the root. A kernel
// queue overflow does not come through here; it latches the
// TakeOverflow flag, which leads to a recrawl.
func isUnrecoverable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, kernel.ErrClosed) || errors.Is(err, ErrUnrecoverable)
}

// SignalThreads wakes any blocked WaitNotify call and the pump
// goroutine, used by rootcore's cancellation path.
func (w *Watcher) SignalThreads() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

// Close releases the underlying kernel Source. SignalThreads must be
// called first if the pump goroutine should stop before the Source's
// channels are closed by Close itself.
func (w *Watcher) Close() error {
	return w.src.Close()
}
