// Package pathutil implements the immutable, cheaply-shareable path
// strings used throughout watchcore's in-memory view. A Path knows its
// own basename/dirname/suffix split up front so the hot paths in the
// crawler and query engine never re-parse a string.
package pathutil

import "strings"

// Path is an immutable reference to a filesystem path. Two Paths built
// from the same interner for the same string share their underlying
// data; see Interner.
type Path struct {
	full   string
	base   string
	dir    string
	suffix string // lowercased, without the leading dot
	hasDot bool
}

// New builds a Path directly, without interning. Most callers should
// go through an Interner (see intern.go) so that repeated observations
// of the same path (as happens constantly during a crawl) don't
// allocate a new split on every call.
func New(full string) *Path {
	full = normalizeSeparators(full)
	dir, base := split(full)
	suffix, hasDot := splitSuffix(base)
	return &Path{full: full, base: base, dir: dir, suffix: suffix, hasDot: hasDot}
}

// normalizeSeparators rewrites backslashes to forward slashes and
// collapses a trailing slash, so that paths observed from a Windows
// backend compare equal to paths built by the query engine.
func normalizeSeparators(p string) string {
	if strings.ContainsRune(p, '\\') {
		p = strings.ReplaceAll(p, "\\", "/")
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func split(full string) (dir, base string) {
	idx := strings.LastIndexByte(full, '/')
	if idx < 0 {
		return "", full
	}
	return full[:idx], full[idx+1:]
}

func splitSuffix(base string) (suffix string, hasDot bool) {
	idx := strings.LastIndexByte(base, '.')
	// A leading dot (dotfile with no further extension, e.g. ".gitignore")
	// is not treated as a suffix separator.
	if idx <= 0 {
		return "", false
	}
	return strings.ToLower(base[idx+1:]), true
}

// String returns the full path.
func (p *Path) String() string { return p.full }

// Basename returns the final path component.
func (p *Path) Basename() string { return p.base }

// Dirname returns everything but the final path component; empty for
// a top-level name.
func (p *Path) Dirname() string { return p.dir }

// Suffix returns the lowercased extension (without the dot), or "" if
// the basename has no extension.
func (p *Path) Suffix() string { return p.suffix }

// HasSuffix reports whether the basename has a '.'-delimited suffix at
// all (used to distinguish "no suffix" from "empty suffix", e.g. "foo."
// has suffix "" but HasSuffix true).
func (p *Path) HasSuffix() bool { return p.hasDot }

// Join appends a child name to this path, returning the new full path
// string (not interned; caller interns if desired).
func (p *Path) Join(child string) string {
	if p.full == "" {
		return child
	}
	return p.full + "/" + child
}

// IsPrefixOf reports whether p is a path-component-wise prefix of
// other, i.e. other == p or other starts with p + "/". Plain string
// prefixing would wrongly consider "/a/b" a prefix of "/a/bc".
func (p *Path) IsPrefixOf(other string) bool {
	return IsPrefixOf(p.full, other)
}

// IsPrefixOf reports whether prefix is a path-component-wise prefix of
// full.
func IsPrefixOf(prefix, full string) bool {
	if prefix == "" {
		return true
	}
	if full == prefix {
		return true
	}
	if len(full) <= len(prefix) {
		return false
	}
	return full[:len(prefix)] == prefix && full[len(prefix)] == '/'
}

// Relative returns full with root stripped as a prefix, joined with
// "/"; used to render relative_root-scoped query results. Returns
// full unchanged if root is not a prefix.
func Relative(root, full string) string {
	if root == "" {
		return full
	}
	if full == root {
		return ""
	}
	if IsPrefixOf(root, full) {
		return full[len(root)+1:]
	}
	return full
}
