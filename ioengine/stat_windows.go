//go:build windows

package ioengine

import (
	"os"

	"github.com/watchcore/watchcore/tree"
)

// toStat converts an os.FileInfo into watchcore's tracked Stat fields.
// Windows' os.FileInfo.Sys() returns *syscall.Win32FileAttributeData,
// which has no inode/link-count concept; those fields stay zero, same
// as they would for any afero.MemMapFs-backed test run.
func toStat(fi os.FileInfo) tree.Stat {
	return tree.Stat{
		Mode:  uint32(fi.Mode()),
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
		Ctime: fi.ModTime(),
		IsDir: fi.IsDir(),
	}
}
