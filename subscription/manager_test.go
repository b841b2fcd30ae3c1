package subscription

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/config"
	"github.com/watchcore/watchcore/ioengine"
	"github.com/watchcore/watchcore/query"
	"github.com/watchcore/watchcore/watcher"
	"github.com/watchcore/watchcore/watcher/kernel"
)

// fakeSource is a kernel.Source that never delivers events; it exists
// only so a Watcher/Engine pair can be constructed without a real OS
// backend.
type fakeSource struct {
	events chan kernel.Event
	errs   chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan kernel.Event), errs: make(chan error)}
}

func (f *fakeSource) Capabilities() kernel.Capability { return 0 }
func (f *fakeSource) Add(string) error                { return nil }
func (f *fakeSource) Remove(string) error             { return nil }
func (f *fakeSource) Events() <-chan kernel.Event     { return f.events }
func (f *fakeSource) Errors() <-chan error            { return f.errs }
func (f *fakeSource) Close() error {
	close(f.events)
	close(f.errs)
	return nil
}

func newTestEngine(t *testing.T, fs afero.Fs, root string) *ioengine.Engine {
	t.Helper()
	require.NoError(t, fs.MkdirAll(root, 0755))
	w := watcher.New(newFakeSource())
	e := ioengine.New(root, fs, w, config.Default(), clock.Incarnation{StartTime: 1, Pid: 1, RootNumber: 1})
	e.Start()
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool { return !e.IsFreshInstance() }, 2*time.Second, time.Millisecond,
		"initial crawl never completed")
	return e
}

func allFilesQuery() *query.Query {
	return &query.Query{}
}

func TestManagerSubscribeInitialSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/a.txt", []byte("hi"), 0644))
	e := newTestEngine(t, fs, "/root")

	m := NewManager("/root", e, fs, NewStateRegistry())
	sub := NewSubscription("sub1", allFilesQuery(), false, nil, nil)

	resp, err := m.Subscribe(sub)
	require.NoError(t, err)
	require.Len(t, resp.Files, 1, "initial snapshot should include the pre-existing file")
}

func TestManagerDispatchSkipsWhenUnchanged(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := newTestEngine(t, fs, "/root")

	m := NewManager("/root", e, fs, NewStateRegistry())
	sub := NewSubscription("sub1", allFilesQuery(), false, nil, nil)
	_, err := m.Subscribe(sub)
	require.NoError(t, err)

	delivered := false
	sub.Deliver = func(Event) { delivered = true }

	m.DispatchSettle(time.Now())
	require.False(t, delivered, "dispatch must not fire with no intervening tick change")
}

func TestManagerDispatchDeliversOnChange(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := newTestEngine(t, fs, "/root")

	m := NewManager("/root", e, fs, NewStateRegistry())

	var delivered *Event
	sub := NewSubscription("sub1", allFilesQuery(), false, nil, func(ev Event) { delivered = &ev })
	_, err := m.Subscribe(sub)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/root/b.txt", []byte("new"), 0644))
	e.Queue().Add("/root/b.txt", time.Now(), 0)
	waitForQueueDrain(t, e)

	m.DispatchSettle(time.Now())

	require.NotNil(t, delivered, "expected a delivered event after a new file appeared")
	require.NotEmpty(t, delivered.Response.Files)
}

func TestManagerDropPolicySkipsAndFastForwards(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := newTestEngine(t, fs, "/root")

	states := NewStateRegistry()
	m := NewManager("/root", e, fs, states)

	delivered := false
	sub := NewSubscription("sub1", allFilesQuery(), false, map[string]Policy{"hg.update": PolicyDrop}, func(Event) { delivered = true })
	_, err := m.Subscribe(sub)
	require.NoError(t, err)

	states.Assert("hg.update")
	require.NoError(t, afero.WriteFile(fs, "/root/c.txt", []byte("x"), 0644))
	e.Queue().Add("/root/c.txt", time.Now(), 0)
	waitForQueueDrain(t, e)
	// The settle that follows the change runs while the state is
	// asserted; the drop decision is made there.
	m.DispatchSettle(time.Now())
	states.Vacate("hg.update")

	m.DispatchSettle(time.Now())

	require.False(t, delivered, "drop policy should have suppressed delivery")
	require.Equal(t, e.Clock().Ticks, sub.lastSubTick, "drop policy should fast-forward last_sub_tick")
}

func TestManagerDeferVCSWithholdsDelivery(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root/.git", 0755))
	e := newTestEngine(t, fs, "/root")

	m := NewManager("/root", e, fs, NewStateRegistry())

	delivered := false
	sub := NewSubscription("sub1", allFilesQuery(), true, nil, func(Event) { delivered = true })
	_, err := m.Subscribe(sub)
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/root/.git/index.lock", []byte(""), 0644))
	require.NoError(t, afero.WriteFile(fs, "/root/d.txt", []byte("x"), 0644))
	e.Queue().Add("/root/d.txt", time.Now(), 0)
	waitForQueueDrain(t, e)

	before := sub.lastSubTick
	m.DispatchSettle(time.Now())

	require.False(t, delivered, "defer_vcs should have withheld delivery while the lock file exists")
	require.Equal(t, before, sub.lastSubTick, "deferred dispatch must not advance last_sub_tick")
}

func waitForQueueDrain(t *testing.T, e *ioengine.Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Queue().Len() == 0 }, 2*time.Second, time.Millisecond,
		"pending queue never drained")
	time.Sleep(5 * time.Millisecond)
}
