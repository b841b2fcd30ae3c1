package werrors

import (
	"errors"
	"io/fs"
)

// FromStatError maps an error returned by a stat(2)-family call (via
// os.Stat/afero.Fs.Stat, or a raw syscall.Errno from a kernel Source)
// onto the package's taxonomy, wrapping the original error so
// errors.Is/As on it still work.
func FromStatError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return wrap(err, ErrNoSuchFileOrDirectory)
	case errors.Is(err, fs.ErrPermission):
		return wrap(err, ErrPermissionDenied)
	case isNotADirectory(err):
		return wrap(err, ErrNotADirectory)
	case isTooManySymlinks(err):
		return wrap(err, ErrTooManySymlinkLevels)
	case isSystemLimits(err):
		return wrap(err, ErrSystemLimitsExceeded)
	default:
		return err
	}
}

func wrap(original, sentinel error) error {
	return &wrapped{original: original, sentinel: sentinel}
}

type wrapped struct {
	original error
	sentinel error
}

func (w *wrapped) Error() string { return w.original.Error() }
func (w *wrapped) Unwrap() []error {
	return []error{w.original, w.sentinel}
}
