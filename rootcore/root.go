// Package rootcore wires clock, pending, tree, watcher, ioengine,
// query, subscription, and trigger into one running watch per root,
// plus the process-wide map those roots are registered under.
// Nothing in ioengine, query, subscription, or trigger imports this
// package; the dependency runs one way, so this package only ever
// adds a lock on top of, never underneath, the ones those packages
// already take.
package rootcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/config"
	"github.com/watchcore/watchcore/internal/logging"
	"github.com/watchcore/watchcore/ioengine"
	"github.com/watchcore/watchcore/query"
	"github.com/watchcore/watchcore/subscription"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/trigger"
	"github.com/watchcore/watchcore/watcher"
)

// Root is one watched subtree: the engine driving its notify/IO
// threads plus the subscription and trigger dispatch that hang off
// its settle points.
type Root struct {
	Path     string
	sockPath string

	cfg *config.Config
	fs  afero.Fs
	log *logrus.Entry

	engine *ioengine.Engine
	subs   *subscription.Manager
	trigs  *trigger.Manager

	onDone func(path string)
}

func newRoot(
	rootPath string,
	fs afero.Fs,
	w *watcher.Watcher,
	cfg *config.Config,
	store *trigger.Store,
	sockPath string,
	incarnation clock.Incarnation,
	onDone func(path string),
) *Root {
	engine := ioengine.New(rootPath, fs, w, cfg, incarnation)
	states := subscription.NewStateRegistry()
	subs := subscription.NewManager(rootPath, engine, fs, states)
	trigs := trigger.NewManager(rootPath, sockPath, engine, fs, store)

	engine.SetDispatcher(subs)
	engine.SetPublisher(trigs)

	r := &Root{
		Path:     rootPath,
		sockPath: sockPath,
		cfg:      cfg,
		fs:       fs,
		log:      logging.For(rootPath),
		engine:   engine,
		subs:     subs,
		trigs:    trigs,
		onDone:   onDone,
	}
	return r
}

// start launches the engine's notify/IO threads and a reaper goroutine
// that tears down triggers and deregisters the root from its Registry
// once the engine exits, however that happened (explicit Cancel,
// idle reap, or an unrecoverable watcher error).
func (r *Root) start() {
	r.engine.Start()
	go func() {
		r.engine.Wait()
		r.trigs.StopAll()
		_ = r.engine.Watcher().Close()
		if r.onDone != nil {
			r.onDone(r.Path)
		}
	}()
}

// Clock returns the root's current logical clock.
func (r *Root) Clock() clock.Clock { return r.engine.Clock() }

// Poisoned returns the sticky error recorded by a SystemLimitsExceeded
// condition, an idle reap, or an unrecoverable watcher error, if any.
func (r *Root) Poisoned() error { return r.engine.Poisoned() }

// Cancel stops this root's threads and triggers and deregisters it.
func (r *Root) Cancel() {
	r.engine.Stop()
	r.engine.Wait()
}

// SyncToNow runs the cookie rendezvous directly,
// for callers that want to force a sync without running a query.
func (r *Root) SyncToNow(ctx context.Context, timeout time.Duration) error {
	_, err := r.engine.Cookies().SyncToNow(ctx, timeout)
	return err
}

// Query executes q against this root: syncs first if
// requested, resolves q.Since against the current clock/cursor state
// with read/write semantics,
// and runs the generator/expression pipeline over a consistent
// snapshot of the tree.
func (r *Root) Query(ctx context.Context, q *query.Query) (*query.Response, error) {
	if poison := r.engine.Poisoned(); poison != nil {
		return nil, poison
	}

	if q.SyncTimeout > 0 {
		if _, err := r.engine.Cookies().SyncToNow(ctx, q.SyncTimeout); err != nil {
			if errors.Is(err, clock.ErrTimedOut) {
				return nil, fmt.Errorf("rootcore: sync_timeout exceeded for %s: %w", r.Path, err)
			}
			return nil, err
		}
	}

	var view *tree.View
	var cur clock.Clock
	var lastAgeOutTick uint32
	r.engine.Snapshot(func(v *tree.View, c clock.Clock, l uint32) {
		view, cur, lastAgeOutTick = v, c, l
	})

	var spec clock.Spec
	if q.Since != nil {
		spec = *q.Since
	}
	res := clock.ResolveReadWrite(spec, cur, lastAgeOutTick, r.engine.Cursors())
	if res.BumpTick {
		r.engine.SetTicks(cur.Ticks + 1)
		cur.Ticks++
	}

	resp, err := query.Execute(view, r.Path, cur, res, q, time.Now())
	if err != nil {
		return nil, err
	}
	if r.engine.IsFreshInstance() {
		// Queries during a recrawl always see a fresh instance,
		// independent of whatever clock.Resolve decided from q.Since.
		resp.IsFreshInstance = true
	}
	return resp, nil
}

// Subscribe registers sub against this root's subscription.Manager.
func (r *Root) Subscribe(sub *subscription.Subscription) (*query.Response, error) {
	return r.subs.Subscribe(sub)
}

// Unsubscribe removes a subscription by name.
func (r *Root) Unsubscribe(name string) { r.subs.Unsubscribe(name) }

// States exposes the asserted-state registry for state-enter/state-leave.
func (r *Root) States() *subscription.StateRegistry { return r.subs.States() }

// AddTrigger registers or replaces a trigger.
func (r *Root) AddTrigger(def trigger.Definition) (trigger.AddResult, error) {
	return r.trigs.Add(def)
}

// RemoveTrigger stops and deregisters a trigger by name.
func (r *Root) RemoveTrigger(name string) bool { return r.trigs.Remove(name) }

// Triggers lists this root's currently running trigger definitions.
func (r *Root) Triggers() []trigger.Definition { return r.trigs.List() }
