package kernel

import (
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// pollEntry is the last-seen state of one watched path. self is nil
// while the path is absent (the entry stays registered so that a
// recreate after a remove is still observed). children is populated
// only for directories and lets a directory watch report events for
// its immediate children by name, the same shape inotify delivers.
type pollEntry struct {
	self     os.FileInfo
	children map[string]os.FileInfo
}

// PollingSource is a pure-Go Source built on afero.Fs, used as the
// primary backend exercised by tests (since inotify/kqueue cannot
// observe afero's in-memory filesystem) and as the universal fallback
// for platforms with no native kernel event mechanism (inspired by
// github.com/radovskyb/watcher).
type PollingSource struct {
	fs       afero.Fs
	interval time.Duration

	mu      sync.Mutex
	watched map[string]*pollEntry
	closed  bool

	events chan Event
	errors chan error
	stop   chan struct{}
	done   chan struct{}
}

// NewPollingSource creates a PollingSource backed by fs, re-scanning
// watched paths every interval.
func NewPollingSource(fs afero.Fs, interval time.Duration) *PollingSource {
	p := &PollingSource{
		fs:       fs,
		interval: interval,
		watched:  make(map[string]*pollEntry),
		events:   make(chan Event),
		errors:   make(chan error),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

// Capabilities: a directory watch reports its children by name (the
// scan below synthesizes per-child events), so like inotify no
// per-file watches are needed.
func (p *PollingSource) Capabilities() Capability {
	return 0
}

func (p *PollingSource) Add(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	fi, err := p.fs.Stat(path)
	if err != nil {
		return err
	}
	entry := &pollEntry{self: fi}
	if fi.IsDir() {
		entry.children = p.listChildren(path)
	}
	p.watched[path] = entry
	return nil
}

func (p *PollingSource) listChildren(path string) map[string]os.FileInfo {
	children := make(map[string]os.FileInfo)
	infos, err := afero.ReadDir(p.fs, path)
	if err != nil {
		return children
	}
	for _, fi := range infos {
		children[fi.Name()] = fi
	}
	return children
}

func (p *PollingSource) Remove(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.watched[path]; !ok {
		return ErrNonExistentWatch
	}
	delete(p.watched, path)
	return nil
}

func (p *PollingSource) Events() <-chan Event { return p.events }
func (p *PollingSource) Errors() <-chan error { return p.errors }

func (p *PollingSource) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.stop)
	<-p.done
	close(p.events)
	close(p.errors)
	return nil
}

func (p *PollingSource) loop() {
	defer close(p.done)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.scan()
		}
	}
}

// scan diffs the current state of every watched path against the last
// seen snapshot, synthesizing Create/Remove/Write/Chmod events. For
// directories it diffs the child listing and emits per-child events,
// which is what lets the crawler treat this Source exactly like a
// native directory-notification backend.
func (p *PollingSource) scan() {
	p.mu.Lock()
	paths := make([]string, 0, len(p.watched))
	for path := range p.watched {
		paths = append(paths, path)
	}
	p.mu.Unlock()

	for _, path := range paths {
		fi, err := p.fs.Stat(path)

		p.mu.Lock()
		entry, ok := p.watched[path]
		p.mu.Unlock()
		if !ok {
			continue
		}

		switch {
		case err != nil && entry.self != nil:
			// The entry stays registered so a recreate is observed.
			p.mu.Lock()
			entry.self = nil
			entry.children = nil
			p.mu.Unlock()
			if !p.emit(Event{Name: path, Op: Remove}) {
				return
			}

		case err == nil && entry.self == nil:
			p.mu.Lock()
			entry.self = fi
			if fi.IsDir() {
				entry.children = p.listChildren(path)
			}
			p.mu.Unlock()
			if !p.emit(Event{Name: path, Op: Create}) {
				return
			}

		case err == nil:
			if fi.IsDir() {
				if !p.scanDir(path, entry, fi) {
					return
				}
			} else if op := diffOp(entry.self, fi); op != 0 {
				p.mu.Lock()
				entry.self = fi
				p.mu.Unlock()
				if !p.emit(Event{Name: path, Op: op}) {
					return
				}
			}
		}
	}
}

// scanDir diffs a watched directory's child listing against the last
// snapshot and emits per-child events. Returns false if the source is
// stopping.
func (p *PollingSource) scanDir(path string, entry *pollEntry, fi os.FileInfo) bool {
	current := p.listChildren(path)

	p.mu.Lock()
	prev := entry.children
	entry.self = fi
	entry.children = current
	p.mu.Unlock()

	for name, cur := range current {
		before, existed := prev[name]
		childPath := path + "/" + name
		if !existed {
			if !p.emit(Event{Name: childPath, Op: Create}) {
				return false
			}
			continue
		}
		if op := diffOp(before, cur); op != 0 {
			if !p.emit(Event{Name: childPath, Op: op}) {
				return false
			}
		}
	}
	for name := range prev {
		if _, still := current[name]; !still {
			if !p.emit(Event{Name: path + "/" + name, Op: Remove}) {
				return false
			}
		}
	}
	return true
}

func diffOp(prev, cur os.FileInfo) Op {
	var op Op
	if prev.ModTime() != cur.ModTime() || prev.Size() != cur.Size() {
		op |= Write
	}
	if prev.Mode() != cur.Mode() {
		op |= Chmod
	}
	return op
}

func (p *PollingSource) emit(e Event) bool {
	select {
	case p.events <- e:
		return true
	case <-p.stop:
		return false
	}
}
