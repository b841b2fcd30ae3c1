//go:build !windows

package ioengine

import (
	"os"
	"syscall"

	"github.com/watchcore/watchcore/tree"
)

// toStat converts an os.FileInfo into watchcore's tracked Stat fields,
// pulling ino/dev/nlink/uid/gid out of the raw syscall.Stat_t when the
// underlying afero.Fs is backed by the real OS (afero.MemMapFs, used
// by the crawler's tests, has no such thing to offer and leaves these
// zero).
func toStat(fi os.FileInfo) tree.Stat {
	st := tree.Stat{
		Mode:  uint32(fi.Mode()),
		Size:  fi.Size(),
		Mtime: fi.ModTime(),
		IsDir: fi.IsDir(),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		st.Ino = sys.Ino
		st.Dev = uint64(sys.Dev)
		st.Nlink = uint64(sys.Nlink)
		st.Uid = sys.Uid
		st.Gid = sys.Gid
		st.Ctime = statCtime(sys)
	}
	return st
}
