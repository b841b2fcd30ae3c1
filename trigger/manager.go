package trigger

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/internal/logging"
	"github.com/watchcore/watchcore/ioengine"
)

// Manager owns every running Trigger for one root and satisfies
// ioengine.Publisher: PublishSettled fans the same settle event the
// subscription manager sees out to each trigger's run loop. It is
// also the persistence boundary: Add/Remove call through to a Store
// so trigger definitions survive a daemon restart.
type Manager struct {
	rootPath string
	sockPath string
	engine   *ioengine.Engine
	fs       afero.Fs
	store    *Store
	log      *logrus.Entry

	mu       sync.Mutex
	triggers map[string]*Trigger
}

// NewManager returns a Manager for rootPath. store may be nil, in
// which case Add/Remove do not persist (used by tests and by roots
// configured without a state file).
func NewManager(rootPath, sockPath string, engine *ioengine.Engine, fs afero.Fs, store *Store) *Manager {
	return &Manager{
		rootPath: rootPath,
		sockPath: sockPath,
		engine:   engine,
		fs:       fs,
		store:    store,
		log:      logging.Component("trigger").WithField("root", rootPath),
		triggers: make(map[string]*Trigger),
	}
}

// AddResult reports what Add did: the three dispositions a
// trigger-add command can respond with.
type AddResult int

const (
	// AddStarted means a new trigger instance is now running.
	AddStarted AddResult = iota
	// AddReplaced means a previous instance with a different
	// definition was stopped and replaced.
	AddReplaced
	// AddAlreadyDefined means def.Raw matched the running instance's
	// definition byte-for-byte; nothing changed.
	AddAlreadyDefined
)

// Add registers def, starting its run loop. If a trigger with the same
// Name is already running with an identical Raw definition, this is a
// no-op that preserves the running instance's rolling since_spec and
// clock. Otherwise any previous instance is stopped
// before the new one starts, and the definition is persisted.
func (m *Manager) Add(def Definition) (AddResult, error) {
	m.mu.Lock()
	old, existed := m.triggers[def.Name]
	m.mu.Unlock()

	if existed && old.def.Equal(def) {
		return AddAlreadyDefined, nil
	}

	t := newTrigger(m.rootPath, m.sockPath, def, m.engine, m.fs)

	m.mu.Lock()
	m.triggers[def.Name] = t
	m.mu.Unlock()

	if existed {
		old.stopAndWait()
	}
	t.start()

	if m.store != nil {
		if err := m.store.Save(m.rootPath, def); err != nil {
			m.log.WithError(err).Error("persisting trigger definition failed")
			return AddStarted, err
		}
	}

	if existed {
		return AddReplaced, nil
	}
	return AddStarted, nil
}

// Remove stops and deregisters the named trigger, returning whether
// one was found.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	t, ok := m.triggers[name]
	if ok {
		delete(m.triggers, name)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	t.stopAndWait()
	if m.store != nil {
		if err := m.store.Delete(m.rootPath, name); err != nil {
			m.log.WithError(err).Error("deleting persisted trigger definition failed")
		}
	}
	return true
}

// List returns the definitions of every currently running trigger,
// for the out-of-scope trigger-list command to render.
func (m *Manager) List() []Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := make([]Definition, 0, len(m.triggers))
	for _, t := range m.triggers {
		defs = append(defs, t.def)
	}
	return defs
}

// StopAll stops every running trigger without touching persisted
// state, used when a root is canceled.
func (m *Manager) StopAll() {
	m.mu.Lock()
	triggers := make([]*Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		triggers = append(triggers, t)
	}
	m.triggers = make(map[string]*Trigger)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range triggers {
		wg.Add(1)
		go func(t *Trigger) {
			defer wg.Done()
			t.stopAndWait()
		}(t)
	}
	wg.Wait()
}

// PublishSettled implements ioengine.Publisher: wake every running
// trigger's run loop.
func (m *Manager) PublishSettled() {
	m.mu.Lock()
	triggers := make([]*Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		triggers = append(triggers, t)
	}
	m.mu.Unlock()

	for _, t := range triggers {
		t.signalSettle()
	}
}

// Persisted returns the trigger records Store has on disk for
// rootPath, used on daemon startup to replay triggers registered
// before a restart. Reconstructing a
// runnable Definition from a Record's Raw bytes (parsing the
// expression tree, compiling the query) is the out-of-scope command
// layer's job; once it has done so, the caller registers the result
// normally via Add.
func (m *Manager) Persisted() ([]Record, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.List(m.rootPath)
}
