//go:build !windows

package werrors

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isNotADirectory(err error) bool {
	return errors.Is(err, unix.ENOTDIR)
}

func isTooManySymlinks(err error) bool {
	return errors.Is(err, unix.ELOOP)
}

// isSystemLimits covers the errnos inotify/kqueue return when watch
// descriptors or fds run out — the class that poisons the root.
func isSystemLimits(err error) bool {
	return errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE) ||
		errors.Is(err, unix.ENOMEM)
}
