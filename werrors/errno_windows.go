//go:build windows

package werrors

// Windows has no direct ENOTDIR/ELOOP equivalents surfaced through
// os.Stat in the same way; these conditions instead show up as generic
// fs.ErrNotExist from the Win32 layer, which FromStatError already
// handles.
func isNotADirectory(err error) bool   { return false }
func isTooManySymlinks(err error) bool { return false }
func isSystemLimits(err error) bool    { return false }
