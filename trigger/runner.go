package trigger

import (
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/internal/logging"
	"github.com/watchcore/watchcore/ioengine"
	"github.com/watchcore/watchcore/query"
	"github.com/watchcore/watchcore/subscription"
	"github.com/watchcore/watchcore/tree"
)

// Trigger is one running instance of a Definition: a goroutine that
// wakes on every settle, re-evaluates the query, and spawns the
// command when it yields results. Single-instance
// semantics are enforced by the run loop itself: it never starts a new
// spawn while waiting for the previous one's termination.
type Trigger struct {
	def      Definition
	rootPath string
	sockPath string
	engine   *ioengine.Engine
	fs       afero.Fs
	log      *logrus.Entry

	mu        sync.Mutex
	sinceSpec clock.Spec

	ping chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newTrigger(rootPath, sockPath string, def Definition, engine *ioengine.Engine, fs afero.Fs) *Trigger {
	t := &Trigger{
		def:      def,
		rootPath: rootPath,
		sockPath: sockPath,
		engine:   engine,
		fs:       fs,
		log:      logging.Component("trigger").WithField("root", rootPath).WithField("trigger", def.Name),
		ping:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if def.Query.Since != nil {
		t.sinceSpec = *def.Query.Since
	}
	return t
}

func (t *Trigger) start() {
	go t.run()
}

// signalSettle wakes the run loop; it is the "settled" event from the
// same unilateral publisher subscription.Manager.DispatchSettle
// listens on.
func (t *Trigger) signalSettle() {
	select {
	case t.ping <- struct{}{}:
	default:
	}
}

// stopAndWait requests the run loop exit and waits for any in-flight
// child process to terminate first.
func (t *Trigger) stopAndWait() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	t.signalSettle()
	<-t.done
}

func (t *Trigger) run() {
	defer close(t.done)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ping:
		}
		select {
		case <-t.stop:
			return
		default:
		}
		t.maybeSpawn()
	}
}

// maybeSpawn: defer while a VCS
// operation looks to be in progress, else execute the query with
// sync_timeout forced to 0 (triggers are only ever dispatched at
// settle points, which are themselves already synced to the present),
// roll sinceSpec forward to the clock at the start of this query
// regardless of whether anything matched, and spawn iff it did.
func (t *Trigger) maybeSpawn() {
	if subscription.IsVCSOperationInProgress(t.fs, t.rootPath) {
		t.log.Debug("deferring trigger until VCS operations complete")
		return
	}

	var view *tree.View
	var cur clock.Clock
	var lastAgeOutTick uint32
	t.engine.Snapshot(func(v *tree.View, c clock.Clock, l uint32) {
		view, cur, lastAgeOutTick = v, c, l
	})

	t.mu.Lock()
	sinceSpec := t.sinceSpec
	t.mu.Unlock()

	q := *t.def.Query
	q.SyncTimeout = 0
	q.Since = &sinceSpec
	if t.def.AppendFiles {
		// Appending file names to argv implies dedup.
		q.Dedup = true
	}

	res := clock.ResolveReadOnly(sinceSpec, cur, lastAgeOutTick, t.engine.Cursors())
	resp, err := query.Execute(view, t.rootPath, cur, res, &q, time.Now())
	if err != nil {
		t.log.WithError(err).Error("trigger query failed")
		return
	}

	savedSince := sinceSpec
	t.mu.Lock()
	t.sinceSpec = clock.Spec{Kind: clock.KindClock, ClockVal: cur}
	t.mu.Unlock()

	if len(resp.Files) == 0 {
		return
	}

	t.spawn(resp, savedSince, cur)
}

func (t *Trigger) spawn(resp *query.Response, since clock.Spec, cur clock.Clock) {
	files := resp.Files
	if t.def.MaxFilesStdin > 0 && len(files) > t.def.MaxFilesStdin {
		files = files[:t.def.MaxFilesStdin]
	}

	e := env{
		root:    t.rootPath,
		sock:    t.sockPath,
		trigger: t.def.Name,
		clock:   cur.String(),
	}
	if since.Kind == clock.KindClock {
		e.since = since.ClockVal.String()
	}
	if t.def.RelativeRoot != "" {
		e.relativeRoot = t.def.RelativeRoot
	}

	fileOverflow := t.def.MaxFilesStdin > 0 && len(resp.Files) > t.def.MaxFilesStdin

	stdin, err := prepareStdin(&t.def, files)
	if err != nil {
		t.log.WithError(err).Error("preparing trigger stdin")
		return
	}

	names := make([]string, 0, len(resp.Files))
	for _, f := range resp.Files {
		names = append(names, f.Name)
	}

	envPairs := e.toPairs()
	argv, argvOverflow := buildArgv(&t.def, names, envPairs)
	fileOverflow = fileOverflow || argvOverflow
	envPairs = e.withFilesOverflow(fileOverflow).toPairs()

	cmd, cleanup, err := buildCmd(&t.def, argv, envPairs, stdin)
	if err != nil {
		t.log.WithError(err).Error("building trigger command")
		return
	}
	defer cleanup()

	t.log.WithField("argv", argv).Debug("spawning trigger command")
	if err := cmd.Start(); err != nil {
		t.log.WithError(err).Error("spawning trigger command failed")
		return
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.log.WithError(err).Warn("trigger command did not run to completion")
		}
	}
}

func (e env) withFilesOverflow(v bool) env {
	e.filesOverflow = v
	return e
}
