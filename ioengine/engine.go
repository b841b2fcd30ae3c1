// Package ioengine implements the notify thread, the IO thread
// (crawler and statPath), and the age-out/reap passes: the single
// writer of a root's in-memory tree.View, fed by a pending.Queue that
// the notify thread drains the watcher.Watcher into. All tree
// mutation happens on the IO thread's goroutine; client-facing reads
// go through Engine's RLock-guarded accessors.
package ioengine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/config"
	"github.com/watchcore/watchcore/internal/logging"
	"github.com/watchcore/watchcore/pathutil"
	"github.com/watchcore/watchcore/pending"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/watcher"
)

// notifyDrainLimit bounds how many ConsumeNotify rounds per second the
// notify thread may run. Without it, a kernel event storm (e.g. a `git
// checkout` touching tens of thousands of files) keeps the notify
// thread spinning through ConsumeNotify/Ping cycles back-to-back,
// starving the IO thread's own stat() pacing on the same CPU.
const notifyDrainLimit rate.Limit = 200

// Dispatcher is asked to consider firing every subscription on this
// root at each settle point. Defined here, at the
// consumer, so ioengine never imports the subscription package;
// rootcore wires a *subscription.Manager in that satisfies this.
type Dispatcher interface {
	DispatchSettle(now time.Time)
}

// Publisher notifies trigger threads that the root has settled,
// the same event Dispatcher consumes synchronously.
type Publisher interface {
	PublishSettled()
}

// noopDispatcher/noopPublisher let Engine run (e.g. in tests) before
// rootcore has wired real ones.
type noopDispatcher struct{}

func (noopDispatcher) DispatchSettle(time.Time) {}

type noopPublisher struct{}

func (noopPublisher) PublishSettled() {}

// Engine drives one watched root's notify/IO pipeline.
type Engine struct {
	RootPath string
	fs       afero.Fs
	cfg      *config.Config
	log      *logrus.Entry

	w       *watcher.Watcher
	queue   *pending.Queue
	cookies *clock.CookieSet
	cursors *clock.CursorMap

	mu             sync.RWMutex
	view           *tree.View
	cur            clock.Clock
	lastAgeOutTick uint32
	doneInitial    bool
	recrawlCount   uint32
	lastTouched    time.Time

	// poisonMu guards poisoned separately from mu so the sticky error
	// can be recorded from code paths already holding mu.
	poisonMu sync.Mutex
	poisoned error

	rootInode uint64 // 0 until the first crawl has stat'd the root once

	pendingSymlinkTargets []string
	ignoreDirs            map[string]bool

	dispatcher Dispatcher
	publisher  Publisher

	drainLimiter *rate.Limiter
	ctx          context.Context
	cancel       context.CancelFunc

	stop       chan struct{}
	notifyDone chan struct{}
	ioDone     chan struct{}
}

// New creates an Engine for rootPath. The caller is responsible for
// calling Start to begin the notify/IO goroutines.
func New(rootPath string, fs afero.Fs, w *watcher.Watcher, cfg *config.Config, incarnation clock.Incarnation) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		RootPath:     rootPath,
		fs:           fs,
		cfg:          cfg,
		log:          logging.For(rootPath),
		w:            w,
		queue:        pending.New(),
		cursors:      clock.NewCursorMap(),
		view:         tree.New(rootPath),
		cur:          clock.Clock{Incarnation: incarnation},
		dispatcher:   noopDispatcher{},
		publisher:    noopPublisher{},
		lastTouched:  time.Now(),
		ignoreDirs:   defaultIgnoreDirs(),
		drainLimiter: rate.NewLimiter(notifyDrainLimit, int(notifyDrainLimit)),
		ctx:          ctx,
		cancel:       cancel,
		stop:         make(chan struct{}),
		notifyDone:   make(chan struct{}),
		ioDone:       make(chan struct{}),
	}
	e.cookies = clock.NewCookieSet(fs, selectCookieDir(fs, rootPath, cfg.VCSCookieDirs))
	return e
}

func defaultIgnoreDirs() map[string]bool {
	// A fixed VCS-internal skip list so churn inside .git/.hg/.svn
	// doesn't flood the pending queue; this is not a configurable
	// ignore-glob (that belongs to the out-of-scope command layer).
	return map[string]bool{".git": true, ".hg": true, ".svn": true}
}

// selectCookieDir picks the cookie directory:
// the root, unless one of vcsDirs exists directly under it.
func selectCookieDir(fs afero.Fs, root string, vcsDirs []string) string {
	for _, d := range vcsDirs {
		if fi, err := fs.Stat(root + "/" + d); err == nil && fi.IsDir() {
			return root + "/" + d
		}
	}
	return root
}

// SetDispatcher/SetPublisher wire the subscription and trigger
// side-effects rootcore constructs around this Engine. Must be called
// before Start.
func (e *Engine) SetDispatcher(d Dispatcher) { e.dispatcher = d }
func (e *Engine) SetPublisher(p Publisher)   { e.publisher = p }

// Cookies exposes the CookieSet so rootcore's syncToNow can create and
// await a cookie.
func (e *Engine) Cookies() *clock.CookieSet { return e.cookies }

// Cursors exposes the CursorMap for clock resolution.
func (e *Engine) Cursors() *clock.CursorMap { return e.cursors }

// Queue exposes the pending queue, used by rootcore to enqueue
// client-driven synthetic paths if ever needed, and by tests.
func (e *Engine) Queue() *pending.Queue { return e.queue }

// Watcher exposes the underlying Watcher, used by rootcore for
// capability checks outside the IO thread (e.g. case-sensitivity
// defaults).
func (e *Engine) Watcher() *watcher.Watcher { return e.w }

// Snapshot runs fn with a read lock held over the tree, current clock,
// and last-age-out tick — the triple a query needs to resolve a
// clockspec and execute consistently.
func (e *Engine) Snapshot(fn func(view *tree.View, cur clock.Clock, lastAgeOutTick uint32)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.view, e.cur, e.lastAgeOutTick)
}

// Clock returns the current clock value.
func (e *Engine) Clock() clock.Clock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cur
}

// IsFreshInstance reports whether the root is mid-recrawl.
func (e *Engine) IsFreshInstance() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.doneInitial
}

// Poisoned returns the sticky error recorded by a SystemLimitsExceeded
// condition, an idle reap, or an unrecoverable watcher error, if any.
func (e *Engine) Poisoned() error {
	e.poisonMu.Lock()
	defer e.poisonMu.Unlock()
	return e.poisoned
}

// poison records err as the root's sticky poison error. The first
// recorded error wins; later conditions don't mask the original cause.
func (e *Engine) poison(err error) {
	e.poisonMu.Lock()
	if e.poisoned == nil {
		e.poisoned = err
	}
	e.poisonMu.Unlock()
	e.log.WithError(err).Error("root poisoned")
}

// isIgnored reports whether path sits inside one of the root's
// ignored VCS directories.
// Cookie paths are checked by callers first, so a cookie living in a
// VCS cookie directory is never swallowed here.
func (e *Engine) isIgnored(path string) bool {
	if !pathutil.IsPrefixOf(e.RootPath, path) || path == e.RootPath {
		return false
	}
	rel := path[len(e.RootPath)+1:]
	first := rel
	if idx := strings.IndexByte(rel, '/'); idx >= 0 {
		first = rel[:idx]
	}
	return e.ignoreDirs[first]
}

// retargetCookies points the cookie set back at the root when its
// current cookie directory (a VCS subdir) has been removed.
func (e *Engine) retargetCookies(removed string) {
	if e.cookies.Dir() == removed && removed != e.RootPath {
		e.cookies.SetDir(e.RootPath)
	}
}

// touch records that the root saw activity just now, resetting the
// idle-reap clock.
func (e *Engine) touch(now time.Time) {
	e.mu.Lock()
	e.lastTouched = now
	e.mu.Unlock()
}

func (e *Engine) idleFor(now time.Time) time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return now.Sub(e.lastTouched)
}

// bumpTick advances the logical clock by one and returns the new
// value. Apart from it, e.cur.Ticks changes only through query-resolve's
// BumpTick (which rootcore applies through SetTicks) and the reset to
// 0 in scheduleRecrawl.
func (e *Engine) bumpTick(now time.Time) uint32 {
	e.mu.Lock()
	e.cur.Ticks++
	t := e.cur.Ticks
	e.mu.Unlock()
	e.touch(now)
	return t
}

// SetTicks forces the tick counter forward to at least v, used by
// clock.Resolution.BumpTick from a client query.
func (e *Engine) SetTicks(v uint32) {
	e.mu.Lock()
	if v > e.cur.Ticks {
		e.cur.Ticks = v
	}
	e.mu.Unlock()
}

// advanceAgeOutTick records that age-out has processed up through
// tick v.
func (e *Engine) advanceAgeOutTick(v uint32) {
	e.mu.Lock()
	if v > e.lastAgeOutTick {
		e.lastAgeOutTick = v
	}
	e.mu.Unlock()
}

// Stop signals both threads to exit and wakes the watcher and pending
// queue.
func (e *Engine) Stop() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	e.cancel()
	e.queue.Ping()
	e.w.SignalThreads()
	e.cookies.Abandon()
}

// Wait blocks until both the notify and IO goroutines have exited.
func (e *Engine) Wait() {
	<-e.notifyDone
	<-e.ioDone
}

// Start launches the notify and IO goroutines.
func (e *Engine) Start() {
	go e.notifyThread()
	go e.ioThread()
}
