//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package kernel

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const kqueueWatchFlags = unix.NOTE_DELETE | unix.NOTE_WRITE | unix.NOTE_RENAME | unix.NOTE_ATTRIB

// KqueueSource is a Source backed by BSD/Darwin kqueue(2). A kqueue
// vnode watch only reports changes to the watched fd itself, so it
// advertises HasPerFileNotifications: the consumer installs a watch
// per observed file (as well as per directory) instead of relying on
// directory-level events naming children.
type KqueueSource struct {
	kq        int
	closepipe [2]int

	mu     sync.Mutex
	byFd   map[int]string
	byPath map[string]int
	closed bool

	events chan Event
	errors chan error
}

func NewKqueueSource() (*KqueueSource, error) {
	kq, err := unix.Kqueue()
	if kq == -1 {
		return nil, err
	}
	var closepipe [2]int
	if err := unix.Pipe(closepipe[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], closepipe[0], unix.EVFILT_READ, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	if ok, err := unix.Kevent(kq, changes, nil, nil); ok == -1 {
		unix.Close(kq)
		unix.Close(closepipe[0])
		unix.Close(closepipe[1])
		return nil, err
	}

	s := &KqueueSource{
		kq:        kq,
		closepipe: closepipe,
		byFd:      make(map[int]string),
		byPath:    make(map[string]int),
		events:    make(chan Event),
		errors:    make(chan error),
	}
	go s.readEvents()
	return s, nil
}

func (s *KqueueSource) Capabilities() Capability {
	return HasPerFileNotifications | CoalescedRename
}

func (s *KqueueSource) Add(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.byPath[path]; ok {
		return nil
	}
	fd, err := unix.Open(path, unix.O_NONBLOCK|unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	changes := make([]unix.Kevent_t, 1)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_VNODE, unix.EV_ADD|unix.EV_CLEAR|unix.EV_ENABLE)
	changes[0].Fflags = kqueueWatchFlags
	if ok, err := unix.Kevent(s.kq, changes, nil, nil); ok == -1 {
		unix.Close(fd)
		return err
	}
	s.byFd[fd] = path
	s.byPath[path] = fd
	return nil
}

func (s *KqueueSource) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fd, ok := s.byPath[path]
	if !ok {
		return ErrNonExistentWatch
	}
	delete(s.byPath, path)
	delete(s.byFd, fd)
	unix.Close(fd)
	return nil
}

func (s *KqueueSource) Events() <-chan Event { return s.events }
func (s *KqueueSource) Errors() <-chan error { return s.errors }

func (s *KqueueSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	unix.Write(s.closepipe[1], []byte{0})
	return nil
}

func (s *KqueueSource) sendEvent(e Event) bool {
	s.events <- e
	return true
}

func (s *KqueueSource) sendError(err error) bool {
	s.errors <- err
	return true
}

func (s *KqueueSource) readEvents() {
	defer func() {
		close(s.events)
		close(s.errors)
		unix.Close(s.kq)
		unix.Close(s.closepipe[0])
	}()

	buf := make([]unix.Kevent_t, 10)
	for {
		n, err := unix.Kevent(s.kq, nil, buf, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if !s.sendError(fmt.Errorf("kernel: kqueue read: %w", err)) {
				return
			}
			continue
		}

		for _, kevent := range buf[:n] {
			wd := int(kevent.Ident)
			if wd == s.closepipe[0] {
				return
			}
			s.mu.Lock()
			path, ok := s.byFd[wd]
			s.mu.Unlock()
			if !ok {
				continue
			}
			e := Event{Name: path, Op: opFromFflags(uint32(kevent.Fflags))}
			if e.Op.Has(Remove) || e.Op.Has(Rename) {
				s.mu.Lock()
				delete(s.byPath, path)
				delete(s.byFd, wd)
				s.mu.Unlock()
				unix.Close(wd)
			}
			if !s.sendEvent(e) {
				return
			}
		}
	}
}

func opFromFflags(mask uint32) Op {
	var op Op
	if mask&unix.NOTE_DELETE != 0 {
		op |= Remove
	}
	if mask&unix.NOTE_WRITE != 0 {
		op |= Write
	}
	if mask&unix.NOTE_RENAME != 0 {
		op |= Rename
	}
	if mask&unix.NOTE_ATTRIB != 0 {
		op |= Chmod
	}
	if op.Has(Write) && op.Has(Remove) {
		op &^= Write
	}
	return op
}

var _ = os.DevNull // keep os import if build tags trim other uses
