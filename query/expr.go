// Package query implements the four candidate-selection generators
// and the boolean expression tree evaluated against each candidate.
// Terms are modeled as a small interface plus a name→parser
// registry, so new term kinds can be added without touching the
// evaluator core.
package query

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/pathutil"
	"github.com/watchcore/watchcore/tree"
	"github.com/watchcore/watchcore/werrors"
)

// EvalContext carries the per-query state a term's Evaluate needs:
// the resolved since-clock, the current tick, and scoping information.
type EvalContext struct {
	Now           time.Time
	Current       clock.Clock
	Since         clock.Resolution
	SinceSpec     clock.Spec
	CaseSensitive bool
	RootPath      string

	// Paths is the view's interner, shared so terms that need a
	// name's split (suffix) reuse the cached one instead of
	// re-splitting per candidate.
	Paths *pathutil.Interner
}

// path returns the interned split for name, falling back to a fresh
// split for contexts built without an interner.
func (c *EvalContext) path(name string) *pathutil.Path {
	if c.Paths != nil {
		return c.Paths.Intern(name)
	}
	return pathutil.New(name)
}

// RelPath returns the file's path relative to the watched root,
// joined with "/", used by match/dirname
// terms that operate on the wholename rather than the basename.
func (c *EvalContext) RelPath(f *tree.File) string {
	return pathutil.Relative(c.RootPath, f.FullPath())
}

// Expr is a boolean expression term. Evaluate must be
// side-effect free and safe to call repeatedly for the same file.
type Expr interface {
	Evaluate(ctx *EvalContext, f *tree.File) bool
}

// ParserFunc parses a single term's operand(s) (already split from its
// name by ParseExpr) into an Expr.
type ParserFunc func(name string, rest []any) (Expr, error)

// registry maps a term name to its parser. Registered in init() so
// that adding a new term kind never touches ParseExpr or the
// evaluator core, per the design note above.
var registry = map[string]ParserFunc{}

func register(name string, p ParserFunc) { registry[name] = p }

// ParseExpr parses one query term from its decoded-JSON-like form: a
// term is either a bare string (for zero-operand terms like "true",
// "false", "exists", "empty") or a non-empty slice whose first element
// is the term name string and whose remaining elements are operands.
// The wire decoding itself is out of scope, so ParseExpr is typically
// fed an already-decoded []any/string, not raw JSON bytes.
func ParseExpr(term any) (Expr, error) {
	switch t := term.(type) {
	case string:
		return parseNamed(t, nil)
	case []any:
		if len(t) == 0 {
			return nil, werrors.NewQueryParse("query: empty expression term")
		}
		name, ok := t[0].(string)
		if !ok {
			return nil, werrors.NewQueryParse("query: expression term name must be a string, got %T", t[0])
		}
		return parseNamed(name, t[1:])
	default:
		return nil, werrors.NewQueryParse("query: expression term must be a string or array, got %T", term)
	}
}

func parseNamed(name string, rest []any) (Expr, error) {
	p, ok := registry[name]
	if !ok {
		return nil, werrors.NewQueryParse("query: unknown expression term %q", name)
	}
	return p(name, rest)
}

func init() {
	register("allof", parseAllOf)
	register("anyof", parseAnyOf)
	register("not", parseNot)
	register("true", func(string, []any) (Expr, error) { return constExpr(true), nil })
	register("false", func(string, []any) (Expr, error) { return constExpr(false), nil })
	register("exists", func(string, []any) (Expr, error) { return existsExpr{}, nil })
	register("empty", func(string, []any) (Expr, error) { return emptyExpr{}, nil })
	register("suffix", parseSuffix)
	register("match", parseMatch(false, scopeBasename))
	register("imatch", parseMatch(true, scopeBasename))
	register("pcre", parsePCRE(false, scopeBasename))
	register("ipcre", parsePCRE(true, scopeBasename))
	register("name", parseName(false))
	register("iname", parseName(true))
	register("dirname", parseDirname(false))
	register("idirname", parseDirname(true))
	register("since", parseSince)
	register("size", parseSize)
	register("type", parseType)
}

// --- allof / anyof / not -----------------------------------------

type allOfExpr []Expr

func (e allOfExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	for _, sub := range e {
		if !sub.Evaluate(ctx, f) {
			return false
		}
	}
	return true
}

func parseAllOf(_ string, rest []any) (Expr, error) {
	subs, err := parseExprList(rest)
	if err != nil {
		return nil, err
	}
	return allOfExpr(subs), nil
}

type anyOfExpr []Expr

func (e anyOfExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	for _, sub := range e {
		if sub.Evaluate(ctx, f) {
			return true
		}
	}
	return false
}

func parseAnyOf(_ string, rest []any) (Expr, error) {
	subs, err := parseExprList(rest)
	if err != nil {
		return nil, err
	}
	return anyOfExpr(subs), nil
}

func parseExprList(rest []any) ([]Expr, error) {
	subs := make([]Expr, 0, len(rest))
	for _, r := range rest {
		e, err := ParseExpr(r)
		if err != nil {
			return nil, err
		}
		subs = append(subs, e)
	}
	return subs, nil
}

type notExpr struct{ sub Expr }

func (e notExpr) Evaluate(ctx *EvalContext, f *tree.File) bool { return !e.sub.Evaluate(ctx, f) }

func parseNot(_ string, rest []any) (Expr, error) {
	if len(rest) != 1 {
		return nil, werrors.NewQueryParse("query: not takes exactly one operand")
	}
	sub, err := ParseExpr(rest[0])
	if err != nil {
		return nil, err
	}
	return notExpr{sub}, nil
}

// --- constants / exists / empty -----------------------------------

type constExpr bool

func (e constExpr) Evaluate(*EvalContext, *tree.File) bool { return bool(e) }

type existsExpr struct{}

func (existsExpr) Evaluate(_ *EvalContext, f *tree.File) bool { return f.Exists }

type emptyExpr struct{}

func (emptyExpr) Evaluate(_ *EvalContext, f *tree.File) bool {
	return f.Exists && isRegOrDir(f) && f.Stat.Size == 0
}

// isRegOrDir reports whether f is a regular file or a directory (so
// not a symlink, socket, fifo or device).
func isRegOrDir(f *tree.File) bool {
	return f.Stat.IsDir || os.FileMode(f.Stat.Mode).IsRegular()
}

// --- suffix ----------------------------------------------------------

type suffixExpr struct{ want []string }

func (e suffixExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	s := ctx.path(f.Name).Suffix()
	for _, w := range e.want {
		if s == w {
			return true
		}
	}
	return false
}

func parseSuffix(_ string, rest []any) (Expr, error) {
	want, err := stringOrStringList(rest)
	if err != nil {
		return nil, err
	}
	for i, w := range want {
		want[i] = strings.ToLower(w)
	}
	return suffixExpr{want}, nil
}

func stringOrStringList(rest []any) ([]string, error) {
	if len(rest) == 0 {
		return nil, werrors.NewQueryParse("query: expected at least one operand")
	}
	if len(rest) == 1 {
		if lst, ok := rest[0].([]any); ok {
			out := make([]string, 0, len(lst))
			for _, v := range lst {
				s, ok := v.(string)
				if !ok {
					return nil, werrors.NewQueryParse("query: operand list must contain strings")
				}
				out = append(out, s)
			}
			return out, nil
		}
	}
	out := make([]string, 0, len(rest))
	for _, v := range rest {
		s, ok := v.(string)
		if !ok {
			return nil, werrors.NewQueryParse("query: operand must be a string")
		}
		out = append(out, s)
	}
	return out, nil
}

// --- match / imatch (wildmatch) --------------------------------------

type scope int

const (
	scopeBasename scope = iota
	scopeWholename
)

type matchExpr struct {
	pattern       string
	caseSensitive bool
	scope         scope
}

func (e matchExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	subject := f.Name
	if e.scope == scopeWholename {
		subject = ctx.RelPath(f)
	}
	return wildMatch(e.pattern, subject, e.caseSensitive, false)
}

func parseMatch(ci bool, sc scope) ParserFunc {
	return func(_ string, rest []any) (Expr, error) {
		pat, thisScope, err := parseMatchOperands(rest, sc)
		if err != nil {
			return nil, err
		}
		return matchExpr{pattern: pat, caseSensitive: !ci, scope: thisScope}, nil
	}
}

func parseMatchOperands(rest []any, def scope) (string, scope, error) {
	if len(rest) == 0 {
		return "", def, werrors.NewQueryParse("query: match requires a pattern operand")
	}
	pat, ok := rest[0].(string)
	if !ok {
		return "", def, werrors.NewQueryParse("query: match pattern must be a string")
	}
	sc := def
	if len(rest) > 1 {
		scopeName, ok := rest[1].(string)
		if !ok {
			return "", def, werrors.NewQueryParse("query: match scope must be a string")
		}
		switch scopeName {
		case "basename":
			sc = scopeBasename
		case "wholename":
			sc = scopeWholename
		default:
			return "", def, werrors.NewQueryParse("query: unknown match scope %q", scopeName)
		}
	}
	return pat, sc, nil
}

// --- pcre / ipcre -----------------------------------------------------

type pcreExpr struct {
	re    *regexp.Regexp
	scope scope
}

func (e pcreExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	subject := f.Name
	if e.scope == scopeWholename {
		subject = ctx.RelPath(f)
	}
	return e.re.MatchString(subject)
}

func parsePCRE(ci bool, sc scope) ParserFunc {
	return func(_ string, rest []any) (Expr, error) {
		pat, thisScope, err := parseMatchOperands(rest, sc)
		if err != nil {
			return nil, err
		}
		if ci {
			pat = "(?i)" + pat
		}
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, werrors.NewQueryParse("query: invalid pcre pattern %q: %v", pat, err)
		}
		return pcreExpr{re: re, scope: thisScope}, nil
	}
}

// --- name / iname -----------------------------------------------------

type nameExpr struct {
	names         []string
	caseSensitive bool
	scope         scope
}

func (e nameExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	subject := f.Name
	if e.scope == scopeWholename {
		subject = ctx.RelPath(f)
	}
	if !e.caseSensitive {
		subject = strings.ToLower(subject)
	}
	for _, n := range e.names {
		cand := n
		if !e.caseSensitive {
			cand = strings.ToLower(cand)
		}
		if subject == cand {
			return true
		}
	}
	return false
}

func parseName(ci bool) ParserFunc {
	return func(_ string, rest []any) (Expr, error) {
		if len(rest) == 0 {
			return nil, werrors.NewQueryParse("query: name requires at least one operand")
		}
		names, err := stringOrStringList(rest[:1])
		if err != nil {
			return nil, err
		}
		sc := scopeBasename
		if len(rest) > 1 {
			scopeName, ok := rest[1].(string)
			if !ok {
				return nil, werrors.NewQueryParse("query: name scope must be a string")
			}
			if scopeName == "wholename" {
				sc = scopeWholename
			}
		}
		return nameExpr{names: names, caseSensitive: !ci, scope: sc}, nil
	}
}

// --- dirname / idirname -----------------------------------------------

type intCmp int

const (
	cmpEq intCmp = iota
	cmpNe
	cmpLt
	cmpLe
	cmpGt
	cmpGe
)

func parseIntCmp(name string) (intCmp, error) {
	switch name {
	case "eq":
		return cmpEq, nil
	case "ne":
		return cmpNe, nil
	case "lt":
		return cmpLt, nil
	case "le":
		return cmpLe, nil
	case "gt":
		return cmpGt, nil
	case "ge":
		return cmpGe, nil
	default:
		return 0, werrors.NewQueryParse("query: unknown integer comparator %q", name)
	}
}

func (c intCmp) apply(a, b int) bool {
	switch c {
	case cmpEq:
		return a == b
	case cmpNe:
		return a != b
	case cmpLt:
		return a < b
	case cmpLe:
		return a <= b
	case cmpGt:
		return a > b
	case cmpGe:
		return a >= b
	default:
		return false
	}
}

type dirnameExpr struct {
	dir           string
	caseSensitive bool
	cmp           intCmp
	depth         int
}

func (e dirnameExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	dirFull := e.dir
	if dirFull == "" {
		dirFull = ctx.RootPath
	} else if !pathutil.IsPrefixOf(ctx.RootPath, dirFull) {
		dirFull = ctx.RootPath + "/" + strings.TrimPrefix(dirFull, "/")
	}
	fileDir := f.Parent.FullPath()

	lhsDir, rhsDir := dirFull, fileDir
	if !e.caseSensitive {
		lhsDir, rhsDir = strings.ToLower(lhsDir), strings.ToLower(rhsDir)
	}
	if lhsDir == rhsDir {
		return e.cmp.apply(0, e.depth)
	}
	if !pathutil.IsPrefixOf(lhsDir, rhsDir) {
		return false
	}
	rel := rhsDir[len(lhsDir)+1:]
	depth := strings.Count(rel, "/") + 1
	return e.cmp.apply(depth, e.depth)
}

func parseDirname(ci bool) ParserFunc {
	return func(_ string, rest []any) (Expr, error) {
		if len(rest) == 0 {
			return nil, werrors.NewQueryParse("query: dirname requires a path operand")
		}
		dir, ok := rest[0].(string)
		if !ok {
			return nil, werrors.NewQueryParse("query: dirname path must be a string")
		}
		cmp := cmpGe
		depth := 0
		if len(rest) > 1 {
			pair, ok := rest[1].([]any)
			if !ok || len(pair) != 2 {
				return nil, werrors.NewQueryParse("query: dirname depth must be [\"op\", n]")
			}
			opName, ok1 := pair[0].(string)
			n, ok2 := asInt(pair[1])
			if !ok1 || !ok2 {
				return nil, werrors.NewQueryParse("query: malformed dirname depth operand")
			}
			c, err := parseIntCmp(opName)
			if err != nil {
				return nil, err
			}
			cmp, depth = c, n
		}
		return dirnameExpr{dir: dir, caseSensitive: !ci, cmp: cmp, depth: depth}, nil
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// --- since --------------------------------------------------------------

type sinceField int

const (
	sinceOClock sinceField = iota
	sinceCClock
	sinceMTime
	sinceCTime
)

type sinceExpr struct {
	field sinceField
	spec  clock.Spec
}

func (e sinceExpr) Evaluate(ctx *EvalContext, f *tree.File) bool {
	if ctx.Since.IsFresh && (e.field == sinceOClock || e.field == sinceCClock) {
		// Tick-based comparisons against an untrusted
		// clock degrade to existence; timestamp fields don't depend on
		// the clock and evaluate normally.
		return f.Exists
	}
	switch e.field {
	case sinceOClock:
		return f.OTime.Ticks > ctx.Since.EffectiveTicks
	case sinceCClock:
		return f.CTimeTicks > ctx.Since.EffectiveTicks
	case sinceMTime:
		return f.Stat.Mtime.After(time.Unix(e.spec.Timestamp, 0))
	case sinceCTime:
		return f.Stat.Ctime.After(time.Unix(e.spec.Timestamp, 0))
	default:
		return false
	}
}

func parseSince(_ string, rest []any) (Expr, error) {
	if len(rest) == 0 {
		return nil, werrors.NewQueryParse("query: since requires a clockspec operand")
	}
	tsOrSpec := rest[0]
	field := sinceOClock
	if len(rest) > 1 {
		name, ok := rest[1].(string)
		if !ok {
			return nil, werrors.NewQueryParse("query: since field must be a string")
		}
		switch name {
		case "oclock":
			field = sinceOClock
		case "cclock":
			field = sinceCClock
		case "mtime":
			field = sinceMTime
		case "ctime":
			field = sinceCTime
		default:
			return nil, werrors.NewQueryParse("query: unknown since field %q", name)
		}
	}
	var spec clock.Spec
	switch v := tsOrSpec.(type) {
	case string:
		s, err := clock.ParseSpec(v)
		if err != nil {
			return nil, werrors.NewQueryParse("query: %v", err)
		}
		spec = s
	case float64, int, int64:
		n, _ := asInt(v)
		spec = clock.Spec{Kind: clock.KindTimestamp, Timestamp: int64(n)}
	default:
		return nil, werrors.NewQueryParse("query: since operand must be a clockspec")
	}
	if (field == sinceMTime || field == sinceCTime) && spec.Kind != clock.KindTimestamp {
		return nil, werrors.NewQueryParse("query: since mtime/ctime requires a timestamp clockspec")
	}
	return sinceExpr{field: field, spec: spec}, nil
}

// --- size ------------------------------------------------------------

type sizeExpr struct {
	cmp  intCmp
	want int64
}

func (e sizeExpr) Evaluate(_ *EvalContext, f *tree.File) bool {
	return e.cmp.apply64(f.Stat.Size, e.want)
}

func (c intCmp) apply64(a, b int64) bool {
	switch c {
	case cmpEq:
		return a == b
	case cmpNe:
		return a != b
	case cmpLt:
		return a < b
	case cmpLe:
		return a <= b
	case cmpGt:
		return a > b
	case cmpGe:
		return a >= b
	default:
		return false
	}
}

func parseSize(_ string, rest []any) (Expr, error) {
	if len(rest) != 2 {
		return nil, werrors.NewQueryParse("query: size takes [\"op\", n]")
	}
	opName, ok1 := rest[0].(string)
	n, ok2 := asInt(rest[1])
	if !ok1 || !ok2 {
		return nil, werrors.NewQueryParse("query: malformed size operand")
	}
	cmp, err := parseIntCmp(opName)
	if err != nil {
		return nil, err
	}
	return sizeExpr{cmp: cmp, want: int64(n)}, nil
}

// --- type --------------------------------------------------------------

type typeExpr struct{ want byte }

func (e typeExpr) Evaluate(_ *EvalContext, f *tree.File) bool {
	switch e.want {
	case 'd':
		return f.Stat.IsDir
	case 'l':
		return f.SymlinkTarget != ""
	case 'f':
		return !f.Stat.IsDir && f.SymlinkTarget == ""
	default:
		return false
	}
}

func parseType(_ string, rest []any) (Expr, error) {
	if len(rest) != 1 {
		return nil, werrors.NewQueryParse("query: type takes exactly one operand")
	}
	s, ok := rest[0].(string)
	if !ok || len(s) != 1 {
		return nil, werrors.NewQueryParse("query: type operand must be a single character string")
	}
	return typeExpr{want: s[0]}, nil
}
