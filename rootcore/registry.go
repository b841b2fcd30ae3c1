package rootcore

import (
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/config"
	"github.com/watchcore/watchcore/pathutil"
	"github.com/watchcore/watchcore/trigger"
	"github.com/watchcore/watchcore/watcher"
	"github.com/watchcore/watchcore/watcher/kernel"
)

// SourceFactory builds the kernel.Source a new Root's Watcher should
// use. Registry.New defaults to newDefaultKernelSource (the
// platform-native backend); tests substitute a fake one.
type SourceFactory func() (kernel.Source, error)

// Registry is the process-wide map of watched roots, the outermost
// lock in the hierarchy (watched roots, then a root's inner state,
// then its triggers and asserted states, then the pending queue).
// Exactly one Root exists per canonical root path at a time.
type Registry struct {
	mu    sync.RWMutex
	roots map[string]*Root

	fs       afero.Fs
	cfg      *config.Config
	store    *trigger.Store
	sockPath string
	newSrc   SourceFactory

	startTime int64
	pid       int
}

// NewRegistry creates an empty Registry. startTime/pid carry the
// (StartTime, Pid) pair assigned once at process start;
// Resolve draws each new Root's RootNumber from clock.NextRootNumber.
// sockPath is the daemon's listen socket, handed to every trigger as
// WATCHMAN_SOCK.
func NewRegistry(fs afero.Fs, cfg *config.Config, store *trigger.Store, sockPath string, startTime int64, pid int) *Registry {
	return &Registry{
		roots:     make(map[string]*Root),
		fs:        fs,
		cfg:       cfg,
		store:     store,
		sockPath:  sockPath,
		newSrc:    newDefaultKernelSource,
		startTime: startTime,
		pid:       pid,
	}
}

// canonicalize normalizes rootPath the same way the tree/query layer
// normalizes every path it indexes (pathutil.New's normalizeSeparators),
// so two spellings of the same root (trailing slash, backslashes) map
// to the same registry entry.
func canonicalize(rootPath string) string {
	return pathutil.New(rootPath).String()
}

// Resolve returns the running Root for rootPath, creating and starting
// one if none exists yet. Concurrent Resolve calls for the same path
// are deduplicated: the second caller to reach the write lock finds
// the first caller's Root already installed and returns it instead of
// starting a duplicate watch.
func (reg *Registry) Resolve(rootPath string) (*Root, error) {
	key := canonicalize(rootPath)

	reg.mu.RLock()
	if r, ok := reg.roots[key]; ok {
		reg.mu.RUnlock()
		return r, nil
	}
	reg.mu.RUnlock()

	if err := checkRootRestrictFiles(reg.fs, key, reg.cfg.RootRestrictFiles); err != nil {
		return nil, err
	}
	if err := checkIllegalFSType(key, reg.cfg); err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.roots[key]; ok {
		// Lost the race to another Resolve call that finished
		// construction while we were checking gates/building the Root.
		return r, nil
	}

	src, err := reg.newSrc()
	if err != nil {
		return nil, fmt.Errorf("rootcore: starting kernel source for %s: %w", key, err)
	}
	w := watcher.New(src)

	// Root numbers come from the same process-wide allocator recrawls
	// draw from, so no two incarnations ever collide.
	incarnation := clock.Incarnation{StartTime: reg.startTime, Pid: reg.pid, RootNumber: clock.NextRootNumber()}

	r := newRoot(key, reg.fs, w, reg.cfg, reg.store, reg.sockPath, incarnation, reg.remove)
	reg.roots[key] = r
	r.start()
	return r, nil
}

// Lookup returns the Root already watching rootPath, if any, without
// creating one.
func (reg *Registry) Lookup(rootPath string) (*Root, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.roots[canonicalize(rootPath)]
	return r, ok
}

// Roots lists every currently-watched root path.
func (reg *Registry) Roots() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	paths := make([]string, 0, len(reg.roots))
	for p := range reg.roots {
		paths = append(paths, p)
	}
	return paths
}

// Cancel stops and deregisters the Root watching rootPath, if any.
// Deregistration itself happens via the
// Root's own onDone callback once its threads have actually exited, so
// a concurrent Resolve of the same path during teardown still only
// ever sees one live Root.
func (reg *Registry) Cancel(rootPath string) {
	reg.mu.RLock()
	r, ok := reg.roots[canonicalize(rootPath)]
	reg.mu.RUnlock()
	if !ok {
		return
	}
	r.Cancel()
}

// remove deregisters path from the map; called by a Root's own teardown
// goroutine once its engine has fully stopped (see newRoot's onDone).
func (reg *Registry) remove(path string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.roots, path)
}
