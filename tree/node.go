// Package tree implements watchcore's in-memory shadow of a watched
// filesystem subtree: directory and file nodes, the suffix index, and
// the most-recently-changed list.
package tree

import "time"

// Stat is a snapshot of the fields watchcore tracks from the kernel's
// stat(2)/GetFileInformation result.
type Stat struct {
	Mode  uint32
	Size  int64
	Mtime time.Time
	Ctime time.Time
	Ino   uint64
	Dev   uint64
	Nlink uint64
	Uid   uint32
	Gid   uint32
	IsDir bool
}

// OTime is an "observation time": both the logical tick at which a
// file was last observed to change and the wall-clock timestamp of
// that observation.
type OTime struct {
	Ticks     uint32
	Timestamp time.Time
}

// Dir is a directory node in the shadow tree. A child directory's
// lifetime is owned by its parent's Dirs map; Parent is a non-owning
// back-reference only used for name resolution and dedup.
type Dir struct {
	Name             string
	Parent           *Dir
	Dirs             map[string]*Dir
	Files            map[string]*File
	LastCheckExisted bool
}

func newDir(name string, parent *Dir) *Dir {
	return &Dir{
		Name:   name,
		Parent: parent,
		Dirs:   make(map[string]*Dir),
		Files:  make(map[string]*File),
	}
}

// FullPath reconstructs the directory's path by walking Parent links.
func (d *Dir) FullPath() string {
	if d.Parent == nil {
		return d.Name
	}
	parent := d.Parent.FullPath()
	if parent == "" {
		return d.Name
	}
	return parent + "/" + d.Name
}

// ReserveChildren pre-sizes the child maps using a directory-count
// hint.
func (d *Dir) ReserveChildren(ndirs, nfiles int) {
	if len(d.Dirs) == 0 && ndirs > 0 {
		d.Dirs = make(map[string]*Dir, ndirs)
	}
	if len(d.Files) == 0 && nfiles > 0 {
		d.Files = make(map[string]*File, nfiles)
	}
}

// File is a file (or symlink, or any non-directory dirent) node.
type File struct {
	Name   string
	Parent *Dir

	Stat          Stat
	Exists        bool
	CTimeTicks    uint32
	CTimeStamp    time.Time
	OTime         OTime
	SymlinkTarget string
	MaybeDeleted  bool

	// Intrusive most-recently-changed doubly-linked list pointers,
	// owned by View.
	mrcPrev, mrcNext *File

	// Intrusive singly-linked per-suffix list pointer, owned by View.
	suffixNext *File
}

// FullPath reconstructs the file's path by walking Parent links.
func (f *File) FullPath() string {
	dir := f.Parent.FullPath()
	if dir == "" {
		return f.Name
	}
	return dir + "/" + f.Name
}
