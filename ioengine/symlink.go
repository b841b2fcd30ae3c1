package ioengine

import "github.com/spf13/afero"

// linkReader is satisfied by afero.Fs implementations that can resolve
// a symlink's target (afero.OsFs via afero.LinkReader / afero's
// internal afero.Symlinker; afero.MemMapFs does not implement it at
// all). readSymlink degrades to "" rather than erroring when the
// underlying Fs has no symlink support; the symlink target is simply
// absent on such filesystems.
type linkReader interface {
	ReadlinkIfPossible(name string) (string, error)
}

// readSymlink resolves path's symlink target, or "" if fs can't report
// one.
func readSymlink(fs afero.Fs, path string) string {
	lr, ok := fs.(linkReader)
	if !ok {
		return ""
	}
	target, err := lr.ReadlinkIfPossible(path)
	if err != nil {
		return ""
	}
	return target
}
