//go:build linux

package kernel

import (
	"errors"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// InotifySource is a Source backed by Linux inotify(7). It watches
// single directories non-recursively; the ioengine crawler is
// responsible for calling Add per directory.
type InotifySource struct {
	fd   int
	file *os.File

	mu     sync.Mutex
	byWd   map[uint32]string
	byPath map[string]uint32
	closed bool

	events chan Event
	errors chan error
	done   chan struct{}
}

func NewInotifySource() (*InotifySource, error) {
	fd, errno := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if fd == -1 {
		return nil, errno
	}
	s := &InotifySource{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), ""),
		byWd:   make(map[uint32]string),
		byPath: make(map[string]uint32),
		events: make(chan Event),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
	go s.readEvents()
	return s, nil
}

// Capabilities: inotify reports children of a watched directory by
// name, so no per-file watches are needed; renames arrive as a
// MOVED_FROM/MOVED_TO pair, not a single coalesced event.
func (s *InotifySource) Capabilities() Capability {
	return 0
}

const watchMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_DELETE |
	unix.IN_DELETE_SELF | unix.IN_MOVED_TO | unix.IN_MOVED_FROM |
	unix.IN_MOVE_SELF | unix.IN_ATTRIB

func (s *InotifySource) Add(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	wd, err := unix.InotifyAddWatch(s.fd, path, watchMask)
	if wd == -1 {
		return err
	}
	s.byWd[uint32(wd)] = path
	s.byPath[path] = uint32(wd)
	return nil
}

func (s *InotifySource) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	wd, ok := s.byPath[path]
	if !ok {
		return ErrNonExistentWatch
	}
	delete(s.byPath, path)
	delete(s.byWd, wd)
	unix.InotifyRmWatch(s.fd, wd)
	return nil
}

func (s *InotifySource) Events() <-chan Event { return s.events }
func (s *InotifySource) Errors() <-chan error { return s.errors }

func (s *InotifySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	return s.file.Close()
}

func (s *InotifySource) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *InotifySource) sendEvent(e Event) bool {
	select {
	case <-s.done:
		return false
	case s.events <- e:
		return true
	}
}

func (s *InotifySource) sendError(err error) bool {
	select {
	case <-s.done:
		return false
	case s.errors <- err:
		return true
	}
}

// readEvents decodes the raw inotify event buffer, stripped of
// recursive re-add and cookie-based rename correlation (the pending
// queue's trie does coalescing instead, see DESIGN.md).
func (s *InotifySource) readEvents() {
	defer close(s.events)
	defer close(s.errors)

	var buf [unix.SizeofInotifyEvent * 4096]byte
	for {
		if s.isClosed() {
			return
		}
		n, err := s.file.Read(buf[:])
		if errors.Is(err, os.ErrClosed) {
			return
		}
		if err != nil {
			if !s.sendError(err) {
				return
			}
			continue
		}
		if n < unix.SizeofInotifyEvent {
			continue
		}

		var offset uint32
		for offset <= uint32(n)-unix.SizeofInotifyEvent {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			mask := uint32(raw.Mask)
			nameLen := uint32(raw.Len)
			next := func() { offset += unix.SizeofInotifyEvent + nameLen }

			if mask&unix.IN_Q_OVERFLOW != 0 {
				if !s.sendError(ErrEventOverflow) {
					return
				}
			}

			s.mu.Lock()
			name := s.byWd[uint32(raw.Wd)]
			s.mu.Unlock()

			if nameLen > 0 {
				b := (*[unix.PathMax]byte)(unsafe.Pointer(&buf[offset+unix.SizeofInotifyEvent]))[:nameLen:nameLen]
				trimmed := trimNulls(b)
				if name != "" {
					name += "/" + trimmed
				} else {
					name = trimmed
				}
			}

			if mask&unix.IN_IGNORED != 0 {
				next()
				continue
			}
			if mask&unix.IN_DELETE_SELF != 0 {
				s.mu.Lock()
				delete(s.byPath, name)
				delete(s.byWd, uint32(raw.Wd))
				s.mu.Unlock()
			}

			if name != "" {
				if !s.sendEvent(Event{Name: name, Op: opFromMask(mask)}) {
					return
				}
			}
			next()
		}
	}
}

func trimNulls(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

func opFromMask(mask uint32) Op {
	var op Op
	if mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0 {
		op |= Create
	}
	if mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0 {
		op |= Remove
	}
	if mask&unix.IN_MODIFY != 0 {
		op |= Write
	}
	if mask&(unix.IN_MOVE_SELF|unix.IN_MOVED_FROM) != 0 {
		op |= Rename
	}
	if mask&unix.IN_ATTRIB != 0 {
		op |= Chmod
	}
	return op
}
