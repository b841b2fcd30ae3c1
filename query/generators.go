package query

import (
	"strings"
	"time"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/pathutil"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/werrors"
)

// PathTerm is one entry of a query's "paths" option:
// Depth is -1 for unlimited, or a non-negative descent limit.
type PathTerm struct {
	Path  string
	Depth int
}

// GlobSet is the compiled form of a query's "glob"/"glob_noescape"/
// "glob_includedotfiles" options.
type GlobSet struct {
	Patterns        []string
	NoEscape        bool
	IncludeDotfiles bool
}

// Query is a parsed, ready-to-execute query. Exactly
// one of Paths, Suffixes, or Glob should be set to select a
// non-default generator; if none are, the time generator runs.
type Query struct {
	Since                *clock.Spec
	Suffixes             []string
	Paths                []PathTerm
	Glob                 *GlobSet
	RelativeRoot         string
	SyncTimeout          time.Duration
	LockTimeout          time.Duration
	Fields               []string
	Expr                 Expr
	Dedup                bool
	CaseSensitive        bool
	EmptyOnFreshInstance bool
}

// Response is the result of executing a Query.
type Response struct {
	Clock           clock.Clock
	Since           *clock.Spec
	IsFreshInstance bool
	Files           []FileResult
	Warnings        []string
}

// Execute runs q against view, which must be the caller-resolved
// snapshot for rootPath at the given current clock. res must already
// reflect clock.Resolve{ReadOnly,ReadWrite} applied to q.Since (the
// cursor-map mutation, if any, is the caller's responsibility — see
// clock.ResolveReadWrite — so that Execute itself stays a pure
// function of the tree).
func Execute(view *tree.View, rootPath string, cur clock.Clock, res clock.Resolution, q *Query, now time.Time) (*Response, error) {
	effectiveRoot := rootPath
	if q.RelativeRoot != "" {
		effectiveRoot = strings.TrimRight(rootPath, "/") + "/" + strings.TrimPrefix(q.RelativeRoot, "/")
	}

	candidates, err := generate(view, rootPath, effectiveRoot, q, res)
	if err != nil {
		return nil, err
	}

	ctx := &EvalContext{
		Now:           now,
		Current:       cur,
		Since:         res,
		CaseSensitive: q.CaseSensitive,
		RootPath:      rootPath,
		Paths:         view.Interner(),
	}
	if q.Since != nil {
		ctx.SinceSpec = *q.Since
	}

	resp := &Response{Clock: cur, Since: q.Since, IsFreshInstance: res.IsFresh}

	if q.EmptyOnFreshInstance && res.IsFresh {
		return resp, nil
	}

	dedup := q.Dedup || q.Glob != nil
	seen := map[string]bool{}

	for _, f := range candidates {
		full := f.FullPath()
		if effectiveRoot != full && !pathutil.IsPrefixOf(effectiveRoot, full) {
			continue
		}
		if res.IsFresh && !f.Exists {
			// A fresh-instance response omits nodes that no longer
			// exist, since we can't vouch for what happened to them
			// between the stale clock and now.
			continue
		}
		if q.Expr != nil && !q.Expr.Evaluate(ctx, f) {
			continue
		}
		wholename := pathutil.Relative(effectiveRoot, full)
		if dedup {
			if seen[wholename] {
				continue
			}
			seen[wholename] = true
		}
		resp.Files = append(resp.Files, buildFileResult(f, wholename, cur, res))
	}
	return resp, nil
}

func generate(view *tree.View, rootPath, effectiveRoot string, q *Query, res clock.Resolution) ([]*tree.File, error) {
	switch {
	case len(q.Paths) > 0:
		return pathGenerator(view, rootPath, q.Paths), nil
	case len(q.Suffixes) > 0:
		return suffixGenerator(view, q.Suffixes), nil
	case q.Glob != nil:
		return globGenerator(view, effectiveRoot, q.Glob, q.CaseSensitive)
	case res.IsFresh:
		// A fresh instance must report every currently-existing file
		// the expression matches, not just the ones newer than a
		// since value we can no longer trust.
		return allFilesGenerator(view), nil
	default:
		return timeGenerator(view, q.Since, res), nil
	}
}

// allFilesGenerator walks the whole most-recently-changed list
// unconditionally, used in place of timeGenerator's cutoff when the
// resolved clock is a fresh instance.
func allFilesGenerator(view *tree.View) []*tree.File {
	var out []*tree.File
	for f := view.MostRecentHead(); f != nil; f = tree.MRCNext(f) {
		out = append(out, f)
	}
	return out
}

// pathGenerator resolves each (path, depth) term, yielding the file
// directly if the path names a file, else walking the directory tree
// to depth.
func pathGenerator(view *tree.View, rootPath string, paths []PathTerm) []*tree.File {
	var out []*tree.File
	for _, term := range paths {
		full := rootPath
		if term.Path != "" {
			full = strings.TrimRight(rootPath, "/") + "/" + strings.TrimPrefix(term.Path, "/")
		}
		if dir := view.ResolveDir(full, false); dir != nil {
			walkDirToDepth(dir, term.Depth, &out)
			continue
		}
		parentFull, base := splitPath(full)
		if parent := view.ResolveDir(parentFull, false); parent != nil {
			if f := parent.GetChildFile(base); f != nil {
				out = append(out, f)
			}
		}
	}
	return out
}

func splitPath(full string) (dir, base string) {
	idx := strings.LastIndexByte(full, '/')
	if idx < 0 {
		return "", full
	}
	return full[:idx], full[idx+1:]
}

func walkDirToDepth(dir *tree.Dir, depth int, out *[]*tree.File) {
	for _, f := range dir.Files {
		*out = append(*out, f)
	}
	if depth == 0 {
		return
	}
	next := depth - 1
	for _, sub := range dir.Dirs {
		walkDirToDepth(sub, next, out)
	}
}

// suffixGenerator walks the suffix index for each queried suffix.
func suffixGenerator(view *tree.View, suffixes []string) []*tree.File {
	var out []*tree.File
	for _, s := range suffixes {
		for f := view.SuffixList(s); f != nil; f = tree.SuffixNext(f) {
			out = append(out, f)
		}
	}
	return out
}

// timeGenerator is the default candidate source: walk the
// most-recently-changed list from head, stopping at the first node
// older than since. Non-timestamp clockspecs (clock
// strings, cursors, none) cut off at the resolved effective tick, so
// cursor resolution and subscription rolling clocks flow through
// without re-parsing the spec here.
func timeGenerator(view *tree.View, since *clock.Spec, res clock.Resolution) []*tree.File {
	var out []*tree.File
	var byTimestamp bool
	var ts time.Time
	ticks := res.EffectiveTicks
	if since != nil && since.Kind == clock.KindTimestamp {
		byTimestamp = true
		ts = time.Unix(since.Timestamp, 0)
	}
	for f := view.MostRecentHead(); f != nil; f = tree.MRCNext(f) {
		if byTimestamp {
			if !f.OTime.Timestamp.After(ts) {
				break
			}
		} else if f.OTime.Ticks <= ticks {
			break
		}
		out = append(out, f)
	}
	return out
}

// globGenerator splits each pattern on '/' and walks the tree
// segment by segment: literal segments get a direct child-map lookup,
// specials-bearing segments walk children and wildmatch, and '**'
// recurses across directory boundaries.
func globGenerator(view *tree.View, effectiveRoot string, g *GlobSet, caseSensitive bool) ([]*tree.File, error) {
	root := view.ResolveDir(effectiveRoot, false)
	if root == nil {
		return nil, nil
	}
	seen := map[*tree.File]bool{}
	var out []*tree.File
	for _, pat := range g.Patterns {
		segs := strings.Split(strings.Trim(pat, "/"), "/")
		if len(segs) == 0 || (len(segs) == 1 && segs[0] == "") {
			return nil, werrors.NewQueryParse("query: empty glob pattern")
		}
		collectGlobMatches(root, segs, 0, caseSensitive, g.IncludeDotfiles, func(f *tree.File) {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		})
	}
	return out, nil
}

func collectGlobMatches(dir *tree.Dir, segs []string, idx int, caseSensitive, includeDot bool, emit func(*tree.File)) {
	seg := segs[idx]
	last := idx == len(segs)-1

	if seg == "**" {
		if last {
			// A trailing "**" matches every file at or below dir.
			var walk func(*tree.Dir)
			walk = func(d *tree.Dir) {
				for name, f := range d.Files {
					if includeDot || !strings.HasPrefix(name, ".") {
						emit(f)
					}
				}
				for name, sub := range d.Dirs {
					if includeDot || !strings.HasPrefix(name, ".") {
						walk(sub)
					}
				}
			}
			walk(dir)
			return
		}
		// Zero directories consumed by "**".
		collectGlobMatches(dir, segs, idx+1, caseSensitive, includeDot, emit)
		// One or more: descend into every subdirectory, keeping "**"
		// active so it can cross further boundaries.
		for name, sub := range dir.Dirs {
			if includeDot || !strings.HasPrefix(name, ".") {
				collectGlobMatches(sub, segs, idx, caseSensitive, includeDot, emit)
			}
		}
		return
	}

	if last {
		for name, f := range dir.Files {
			if !includeDot && strings.HasPrefix(name, ".") && !strings.HasPrefix(seg, ".") {
				continue
			}
			if wildMatch(seg, name, caseSensitive, false) {
				emit(f)
			}
		}
		return
	}

	if !hasSpecial(seg) {
		sub := lookupChildDir(dir, seg, caseSensitive)
		if sub != nil {
			collectGlobMatches(sub, segs, idx+1, caseSensitive, includeDot, emit)
		}
		return
	}
	for name, sub := range dir.Dirs {
		if !includeDot && strings.HasPrefix(name, ".") && !strings.HasPrefix(seg, ".") {
			continue
		}
		if wildMatch(seg, name, caseSensitive, false) {
			collectGlobMatches(sub, segs, idx+1, caseSensitive, includeDot, emit)
		}
	}
}

func hasSpecial(seg string) bool {
	return strings.ContainsAny(seg, "*?[\\")
}

func lookupChildDir(dir *tree.Dir, name string, caseSensitive bool) *tree.Dir {
	if caseSensitive {
		return dir.Dirs[name]
	}
	if sub, ok := dir.Dirs[name]; ok {
		return sub
	}
	for k, v := range dir.Dirs {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return nil
}
