package ioengine

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/config"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/watcher"
	"github.com/watchcore/watchcore/watcher/kernel"
)

func newTestEngine(t *testing.T, fs afero.Fs, root string) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.GCAgeMS = 20
	src := kernel.NewPollingSource(fs, 5*time.Millisecond)
	w := watcher.New(src)
	e := New(root, fs, w, cfg, clock.Incarnation{StartTime: 1, Pid: 1, RootNumber: 1})
	e.Start()
	t.Cleanup(func() {
		e.Stop()
		e.Wait()
	})
	return e
}

func waitInitialCrawl(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.IsFreshInstance() }, 2*time.Second, time.Millisecond)
}

// TestFullCrawlObservesExistingFile: a file present before the root
// is resolved is picked up by the initial full crawl.
func TestFullCrawlObservesExistingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/root/a.txt", []byte("hi"), 0644))

	e := newTestEngine(t, fs, "/root")
	waitInitialCrawl(t, e)

	var file *tree.File
	e.Snapshot(func(view *tree.View, _ clock.Clock, _ uint32) {
		dir := view.ResolveDir("/root", false)
		if dir != nil {
			file = dir.GetChildFile("a.txt")
		}
	})
	require.NotNil(t, file, "a.txt should be observed by the initial crawl")
	require.True(t, file.Exists)
	require.EqualValues(t, 2, file.Stat.Size)
}

// TestCreateThenDeleteThenAgeOut: a file
// created then deleted is reported with exists=false, and after
// GCAgeMS passes an age-out pass removes the node from the tree.
func TestCreateThenDeleteThenAgeOut(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root", 0755))

	e := newTestEngine(t, fs, "/root")
	waitInitialCrawl(t, e)

	require.NoError(t, afero.WriteFile(fs, "/root/b.txt", []byte("hi"), 0644))
	require.Eventually(t, func() bool {
		return fileExists(e, "b.txt")
	}, 2*time.Second, 5*time.Millisecond, "b.txt should be observed after creation")

	require.NoError(t, fs.Remove("/root/b.txt"))
	require.Eventually(t, func() bool {
		return fileDeletedButPresent(e, "b.txt")
	}, 2*time.Second, 5*time.Millisecond, "b.txt should be marked deleted, not removed")

	require.Eventually(t, func() bool {
		return !fileNodePresent(e, "b.txt")
	}, 3*time.Second, 5*time.Millisecond, "b.txt should be reclaimed by age-out once GCAgeMS has elapsed")
}

func fileExists(e *Engine, name string) bool {
	found := false
	e.Snapshot(func(view *tree.View, _ clock.Clock, _ uint32) {
		dir := view.ResolveDir("/root", false)
		if dir == nil {
			return
		}
		if f := dir.GetChildFile(name); f != nil && f.Exists {
			found = true
		}
	})
	return found
}

func fileDeletedButPresent(e *Engine, name string) bool {
	ok := false
	e.Snapshot(func(view *tree.View, _ clock.Clock, _ uint32) {
		dir := view.ResolveDir("/root", false)
		if dir == nil {
			return
		}
		if f := dir.GetChildFile(name); f != nil && !f.Exists {
			ok = true
		}
	})
	return ok
}

func fileNodePresent(e *Engine, name string) bool {
	present := false
	e.Snapshot(func(view *tree.View, _ clock.Clock, _ uint32) {
		dir := view.ResolveDir("/root", false)
		if dir == nil {
			return
		}
		if dir.GetChildFile(name) != nil {
			present = true
		}
	})
	return present
}

// TestSyncToNowObservesPriorWrite: SyncToNow must not return until a
// write issued before it was called has been observed by the IO
// thread.
func TestSyncToNowObservesPriorWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/root", 0755))

	e := newTestEngine(t, fs, "/root")
	waitInitialCrawl(t, e)

	require.NoError(t, afero.WriteFile(fs, "/root/c.txt", []byte("hi"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.Cookies().SyncToNow(ctx, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return fileExists(e, "c.txt") }, time.Second, time.Millisecond,
		"a write issued before syncToNow must be reflected once the cookie is observed")
}
