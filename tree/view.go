package tree

import (
	"strings"
	"time"

	"github.com/watchcore/watchcore/pathutil"
)

// View is the in-memory shadow of one watched root. It
// owns the directory tree, the suffix index, and the
// most-recently-changed list. All mutation happens on the IO thread
// under the root's write lock; View itself does no
// locking.
type View struct {
	RootPath  string
	RootDir   *Dir
	RootInode uint64

	// mrcHead is the most recently changed file (highest OTime.Ticks);
	// mrcTail is the oldest. markFileChanged moves a node to the head.
	mrcHead, mrcTail *File

	// suffixHeads maps a lowercased suffix to the head of its
	// singly-linked list of files sharing that suffix.
	suffixHeads map[string]*File

	// interner dedups the basename→split computation: the crawler
	// re-observes the same names on every settle, and without it each
	// observation would re-split the string.
	interner *pathutil.Interner

	// MostRecentTick is the highest tick passed to MarkFileChanged, the
	// tick of the most recent recorded change. Subscriptions compare
	// their last_sub_tick against the root clock's Ticks, not this.
	MostRecentTick uint32
}

// New creates an empty View rooted at rootPath.
func New(rootPath string) *View {
	rootPath = strings.TrimRight(rootPath, "/")
	return &View{
		RootPath:    rootPath,
		RootDir:     newDir(rootPath, nil),
		suffixHeads: make(map[string]*File),
		interner:    pathutil.NewDefaultInterner(),
	}
}

// Interner exposes the view's path interner so the query engine can
// share the same split cache instead of re-splitting names per
// evaluation.
func (v *View) Interner() *pathutil.Interner { return v.interner }

// ResolveDir finds (or, if create is true, creates) the Dir node for
// path, which must be rootPath or a descendant of it. Intermediate
// directories are created as needed.
func (v *View) ResolveDir(path string, create bool) *Dir {
	path = strings.TrimRight(path, "/")
	if path == v.RootPath {
		return v.RootDir
	}
	if !pathutil.IsPrefixOf(v.RootPath, path) {
		return nil
	}
	rel := path[len(v.RootPath)+1:]
	cur := v.RootDir
	for _, name := range strings.Split(rel, "/") {
		child, ok := cur.Dirs[name]
		if !ok {
			if !create {
				return nil
			}
			child = newDir(name, cur)
			cur.Dirs[name] = child
		}
		cur = child
	}
	return cur
}

// GetChildDir looks up an existing child directory by basename.
func (d *Dir) GetChildDir(name string) *Dir { return d.Dirs[name] }

// GetChildFile looks up an existing child file by basename.
func (d *Dir) GetChildFile(name string) *File { return d.Files[name] }

// GetOrCreateChildFile returns the existing child file node, or
// creates a new one (ctime = now) and links it into the suffix index.
// It does not touch the most-recently-changed list; callers call
// MarkFileChanged separately once they know the node actually changed.
func (v *View) GetOrCreateChildFile(dir *Dir, name string, tick uint32, now time.Time) *File {
	if f, ok := dir.Files[name]; ok {
		return f
	}
	f := &File{
		Name:       name,
		Parent:     dir,
		CTimeTicks: tick,
		CTimeStamp: now,
	}
	dir.Files[name] = f
	v.linkSuffix(f)
	return f
}

// linkSuffix pushes f onto the head of its suffix bucket.
func (v *View) linkSuffix(f *File) {
	suffix := v.interner.Intern(f.Name).Suffix()
	f.suffixNext = v.suffixHeads[suffix]
	v.suffixHeads[suffix] = f
}

// unlinkSuffix removes f from its suffix bucket's singly-linked list.
func (v *View) unlinkSuffix(f *File) {
	suffix := v.interner.Intern(f.Name).Suffix()
	head := v.suffixHeads[suffix]
	if head == f {
		v.suffixHeads[suffix] = f.suffixNext
		f.suffixNext = nil
		return
	}
	for n := head; n != nil; n = n.suffixNext {
		if n.suffixNext == f {
			n.suffixNext = f.suffixNext
			f.suffixNext = nil
			return
		}
	}
}

// SuffixList returns the head of the singly-linked list of files whose
// basename has the given lowercased suffix.
func (v *View) SuffixList(suffix string) *File { return v.suffixHeads[strings.ToLower(suffix)] }

// SuffixNext returns the next file sharing f's suffix bucket.
func SuffixNext(f *File) *File { return f.suffixNext }

// MostRecentHead returns the head (most recently changed file) of the
// most-recently-changed list.
func (v *View) MostRecentHead() *File { return v.mrcHead }

// MRCNext/MRCPrev expose the intrusive list pointers to the query
// generators.
func MRCNext(f *File) *File { return f.mrcNext }
func MRCPrev(f *File) *File { return f.mrcPrev }

// MarkFileChanged updates f's observation time and moves it to the
// head of the most-recently-changed list.
func (v *View) MarkFileChanged(f *File, tick uint32, now time.Time) {
	f.OTime = OTime{Ticks: tick, Timestamp: now}
	if tick > v.MostRecentTick {
		v.MostRecentTick = tick
	}
	v.unlinkMRC(f)
	v.pushMRCHead(f)
}

func (v *View) pushMRCHead(f *File) {
	f.mrcPrev = nil
	f.mrcNext = v.mrcHead
	if v.mrcHead != nil {
		v.mrcHead.mrcPrev = f
	}
	v.mrcHead = f
	if v.mrcTail == nil {
		v.mrcTail = f
	}
}

// unlinkMRC removes f from the most-recently-changed list if it is
// currently linked (a no-op the first time a brand new file is
// observed). Linkage is kept consistent with reachability from
// mrcHead.
func (v *View) unlinkMRC(f *File) {
	if v.mrcHead != f && v.mrcTail != f && f.mrcPrev == nil && f.mrcNext == nil {
		return // not linked
	}
	if f.mrcPrev != nil {
		f.mrcPrev.mrcNext = f.mrcNext
	} else if v.mrcHead == f {
		v.mrcHead = f.mrcNext
	}
	if f.mrcNext != nil {
		f.mrcNext.mrcPrev = f.mrcPrev
	} else if v.mrcTail == f {
		v.mrcTail = f.mrcPrev
	}
	f.mrcPrev, f.mrcNext = nil, nil
}

// MarkDirDeleted marks every existing file under dir as deleted,
// recursively if recursive is set. It does not remove nodes from the
// tree; that is age-out's job.
func (v *View) MarkDirDeleted(dir *Dir, tick uint32, now time.Time, recursive bool) {
	dir.LastCheckExisted = false
	for _, f := range dir.Files {
		if f.Exists {
			f.Exists = false
			v.MarkFileChanged(f, tick, now)
		}
	}
	if recursive {
		for _, sub := range dir.Dirs {
			v.MarkDirDeleted(sub, tick, now, true)
		}
	}
}

// RemoveFile unlinks f from its parent directory's map, the
// most-recently-changed list, and its suffix bucket — the only way a
// File node is ever actually freed.
func (v *View) RemoveFile(f *File) {
	v.unlinkMRC(f)
	v.unlinkSuffix(f)
	delete(f.Parent.Files, f.Name)
}

// RemoveEmptyDir unlinks an now-childless directory from its parent.
// The root directory is never removed.
func (v *View) RemoveEmptyDir(d *Dir) bool {
	if d.Parent == nil {
		return false
	}
	if len(d.Files) != 0 || len(d.Dirs) != 0 {
		return false
	}
	delete(d.Parent.Dirs, d.Name)
	return true
}
