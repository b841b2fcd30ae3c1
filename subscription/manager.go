package subscription

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/internal/logging"
	"github.com/watchcore/watchcore/ioengine"
	"github.com/watchcore/watchcore/query"
	"github.com/watchcore/watchcore/tree"
)

// Manager runs the per-settle dispatch loop for every
// subscription registered against one root. It satisfies
// ioengine.Dispatcher.
type Manager struct {
	rootPath string
	engine   *ioengine.Engine
	fs       afero.Fs
	states   *StateRegistry
	log      *logrus.Entry

	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewManager returns a Manager dispatching against engine for
// rootPath. fs is used only for the isVCSOperationInProgress lock-file
// check.
func NewManager(rootPath string, engine *ioengine.Engine, fs afero.Fs, states *StateRegistry) *Manager {
	return &Manager{
		rootPath: rootPath,
		engine:   engine,
		fs:       fs,
		states:   states,
		log:      logging.Component("subscription").WithField("root", rootPath),
		subs:     make(map[string]*Subscription),
	}
}

// States exposes the asserted-state registry so client commands can
// assert/vacate against it.
func (m *Manager) States() *StateRegistry { return m.states }

// Subscribe registers sub and returns its initial query snapshot.
func (m *Manager) Subscribe(sub *Subscription) (*query.Response, error) {
	resp, err := m.runInitial(sub)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.subs[sub.Name] = sub
	m.mu.Unlock()
	return resp, nil
}

func (m *Manager) runInitial(sub *Subscription) (*query.Response, error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	var view *tree.View
	var cur clock.Clock
	var lastAgeOutTick uint32
	m.engine.Snapshot(func(v *tree.View, c clock.Clock, l uint32) {
		view, cur, lastAgeOutTick = v, c, l
	})

	res := clock.ResolveReadWrite(sub.sinceSpec, cur, lastAgeOutTick, m.engine.Cursors())
	if res.BumpTick {
		m.engine.SetTicks(cur.Ticks + 1)
		cur.Ticks++
	}

	resp, err := query.Execute(view, m.rootPath, cur, res, sub.Query, time.Now())
	if err != nil {
		return nil, err
	}
	sub.sinceSpec = clock.Spec{Kind: clock.KindClock, ClockVal: cur}
	sub.lastSubTick = cur.Ticks
	return resp, nil
}

// Unsubscribe removes a subscription by name; a no-op if absent.
func (m *Manager) Unsubscribe(name string) {
	m.mu.Lock()
	delete(m.subs, name)
	m.mu.Unlock()
}

// DispatchSettle implements ioengine.Dispatcher: run the
// skip/drop/defer/execute steps against every registered
// subscription.
func (m *Manager) DispatchSettle(now time.Time) {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	vcsBusy := IsVCSOperationInProgress(m.fs, m.rootPath)
	for _, sub := range subs {
		m.dispatchOne(sub, now, vcsBusy)
	}
}

func (m *Manager) dispatchOne(sub *Subscription, now time.Time, vcsBusy bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	var view *tree.View
	var cur clock.Clock
	var lastAgeOutTick uint32
	m.engine.Snapshot(func(v *tree.View, c clock.Clock, l uint32) {
		view, cur, lastAgeOutTick = v, c, l
	})
	mostRecentTick := cur.Ticks

	// Step 1.
	if sub.lastSubTick == mostRecentTick {
		return
	}

	// Step 2.
	if policy, matched := checkDropOrDefer(sub, m.states); matched {
		if policy == PolicyDrop {
			sub.lastSubTick = mostRecentTick
		}
		return
	}

	// Step 3.
	if sub.DeferVCS && vcsBusy {
		return
	}

	// Step 4: execute with sync_timeout forced to 0 (dispatch already
	// runs at a settle point) and the subscription's rolling clock as
	// the query's since.
	q := *sub.Query
	q.SyncTimeout = 0
	spec := sub.sinceSpec
	q.Since = &spec

	res := clock.ResolveReadOnly(spec, cur, lastAgeOutTick, m.engine.Cursors())
	resp, err := query.Execute(view, m.rootPath, cur, res, &q, now)
	if err != nil {
		m.log.WithError(err).Warn("subscription query failed")
		sub.lastSubTick = mostRecentTick
		return
	}
	if len(resp.Files) > 0 {
		sub.sinceSpec = clock.Spec{Kind: clock.KindClock, ClockVal: cur}
		if sub.Deliver != nil {
			sub.Deliver(Event{Subscription: sub.Name, Root: m.rootPath, Unilateral: true, Response: resp})
		}
	}
	sub.lastSubTick = mostRecentTick
}

func checkDropOrDefer(sub *Subscription, states *StateRegistry) (Policy, bool) {
	sawAsserted := false
	for name, policy := range sub.DropOrDefer {
		if !states.IsAsserted(name) {
			continue
		}
		sawAsserted = true
		if policy == PolicyDrop {
			return PolicyDrop, true
		}
	}
	if sawAsserted {
		return PolicyDefer, true
	}
	return 0, false
}
