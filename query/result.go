package query

import (
	"time"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/tree"
)

// FileResult is one matched file rendered for output. The wire JSON
// shaping itself is out of scope, so Render below produces a generic
// map rather than committing to an encoding/json struct tag layout a
// future transport package can adapt freely.
type FileResult struct {
	Name          string // wholename, relative to the query's effective root
	Exists        bool
	Mode          uint32
	Size          int64
	Mtime         time.Time
	Ctime         time.Time
	OClock        clock.Clock
	CClock        clock.Clock
	Ino           uint64
	Dev           uint64
	Nlink         uint64
	Uid           uint32
	Gid           uint32
	New           bool
	Type          byte
	SymlinkTarget string
}

func buildFileResult(f *tree.File, wholename string, cur clock.Clock, res clock.Resolution) FileResult {
	r := FileResult{
		Name:          wholename,
		Exists:        f.Exists,
		Mode:          f.Stat.Mode,
		Size:          f.Stat.Size,
		Mtime:         f.Stat.Mtime,
		Ctime:         f.Stat.Ctime,
		OClock:        clock.Clock{Incarnation: cur.Incarnation, Ticks: f.OTime.Ticks},
		CClock:        clock.Clock{Incarnation: cur.Incarnation, Ticks: f.CTimeTicks},
		Ino:           f.Stat.Ino,
		Dev:           f.Stat.Dev,
		Nlink:         f.Stat.Nlink,
		Uid:           f.Stat.Uid,
		Gid:           f.Stat.Gid,
		SymlinkTarget: f.SymlinkTarget,
	}
	switch {
	case f.Stat.IsDir:
		r.Type = 'd'
	case f.SymlinkTarget != "":
		r.Type = 'l'
	default:
		r.Type = 'f'
	}
	if !res.IsFresh {
		r.New = f.CTimeTicks > res.EffectiveTicks
	}
	return r
}

// defaultFields is rendered when a query doesn't specify "fields".
var defaultFields = []string{"name", "exists", "new", "size", "mode", "mtime"}

// Render selects the requested output fields into a generic map,
// suitable for a future JSON transport to marshal directly.
func (r FileResult) Render(fields []string) map[string]any {
	if len(fields) == 0 {
		fields = defaultFields
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		switch field {
		case "name":
			out["name"] = r.Name
		case "exists":
			out["exists"] = r.Exists
		case "cclock":
			out["cclock"] = r.CClock.String()
		case "oclock":
			out["oclock"] = r.OClock.String()
		case "ctime":
			out["ctime"] = r.Ctime.Unix()
		case "mtime":
			out["mtime"] = r.Mtime.Unix()
		case "size":
			out["size"] = r.Size
		case "mode":
			out["mode"] = r.Mode
		case "uid":
			out["uid"] = r.Uid
		case "gid":
			out["gid"] = r.Gid
		case "ino":
			out["ino"] = r.Ino
		case "dev":
			out["dev"] = r.Dev
		case "nlink":
			out["nlink"] = r.Nlink
		case "new":
			out["new"] = r.New
		case "type":
			out["type"] = string(r.Type)
		case "symlink_target":
			out["symlink_target"] = r.SymlinkTarget
		}
	}
	return out
}
