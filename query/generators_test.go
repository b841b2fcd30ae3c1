package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/tree"
)

// buildFile adds a file at the given slash-joined path under view,
// observed at tick with size bytes, and marks it changed so it's
// linked into the most-recently-changed and suffix indices.
func buildFile(t *testing.T, view *tree.View, path string, tick uint32, size int64, now time.Time) *tree.File {
	t.Helper()
	idx := len(path)
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			idx = i
			break
		}
	}
	dirPath, base := path[:idx], path[idx+1:]
	dir := view.ResolveDir(dirPath, true)
	require.NotNil(t, dir, "resolving dir for %s", path)
	f := view.GetOrCreateChildFile(dir, base, tick, now)
	f.Exists = true
	f.Stat.Size = size
	view.MarkFileChanged(f, tick, now)
	return f
}

func newFixture(t *testing.T) (*tree.View, time.Time) {
	t.Helper()
	view := tree.New("/root")
	now := time.Unix(1_700_000_000, 0)
	buildFile(t, view, "/root/a.txt", 1, 10, now)
	buildFile(t, view, "/root/src/a/b/x.h", 2, 20, now.Add(time.Second))
	buildFile(t, view, "/root/src/y.c", 3, 30, now.Add(2*time.Second))
	buildFile(t, view, "/root/.hidden", 4, 0, now.Add(3*time.Second))
	return view, now
}

func exec(t *testing.T, view *tree.View, q *Query, cur clock.Clock) *Response {
	t.Helper()
	res := clock.ResolveReadOnly(specOrZero(q.Since), cur, 0, clock.NewCursorMap())
	resp, err := Execute(view, "/root", cur, res, q, time.Now())
	require.NoError(t, err)
	return resp
}

func specOrZero(s *clock.Spec) clock.Spec {
	if s == nil {
		return clock.Spec{}
	}
	return *s
}

func names(resp *Response) []string {
	out := make([]string, 0, len(resp.Files))
	for _, f := range resp.Files {
		out = append(out, f.Name)
	}
	return out
}

// TestGlobDoublestar: a doublestar glob ["src/**/*.h"]
// over a tree containing src/a/b/x.h and src/y.c yields exactly
// src/a/b/x.h.
func TestGlobDoublestar(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{
		Glob: &GlobSet{Patterns: []string{"src/**/*.h"}},
	}, cur)

	assert.Equal(t, []string{"src/a/b/x.h"}, names(resp))
}

func TestGlobDoublestarExcludesDotfilesByDefault(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{Glob: &GlobSet{Patterns: []string{"**"}}}, cur)

	assert.NotContains(t, names(resp), ".hidden")
}

func TestGlobDoublestarIncludeDotfiles(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{Glob: &GlobSet{Patterns: []string{"**"}, IncludeDotfiles: true}}, cur)

	assert.Contains(t, names(resp), ".hidden")
}

func TestSuffixGenerator(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{Suffixes: []string{"h"}}, cur)

	assert.Equal(t, []string{"src/a/b/x.h"}, names(resp))
}

func TestPathGeneratorDepth(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{Paths: []PathTerm{{Path: "src", Depth: 0}}}, cur)

	assert.Equal(t, []string{"src/y.c"}, names(resp))

	resp = exec(t, view, &Query{Paths: []PathTerm{{Path: "src", Depth: -1}}}, cur)
	assert.ElementsMatch(t, []string{"src/y.c", "src/a/b/x.h"}, names(resp))
}

func TestTimeGeneratorTicksCutoff(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}
	spec := clock.Spec{Kind: clock.KindClock, ClockVal: clock.Clock{Ticks: 2}}

	resp := exec(t, view, &Query{Since: &spec}, cur)

	assert.ElementsMatch(t, []string{"src/y.c", ".hidden"}, names(resp))
}

func TestExpressionNameFilter(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	expr, err := ParseExpr([]any{"name", "y.c"})
	require.NoError(t, err)

	resp := exec(t, view, &Query{Suffixes: []string{"c"}, Expr: expr}, cur)
	assert.Equal(t, []string{"src/y.c"}, names(resp))
}

func TestExpressionSizeComparator(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	expr, err := ParseExpr([]any{"size", "gt", 15})
	require.NoError(t, err)

	resp := exec(t, view, &Query{Since: nil, Expr: expr}, cur)
	assert.ElementsMatch(t, []string{"src/a/b/x.h", "src/y.c"}, names(resp))
}

func TestExpressionEmpty(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	expr, err := ParseExpr("empty")
	require.NoError(t, err)

	resp := exec(t, view, &Query{Expr: expr}, cur)
	assert.Equal(t, []string{".hidden"}, names(resp))
}

func TestFreshInstanceOmitsDeletedAndReportsAllExisting(t *testing.T) {
	view, now := newFixture(t)
	deleted := buildFile(t, view, "/root/gone.txt", 1, 5, now)
	deleted.Exists = false

	// A clock string from a different incarnation (here: RootNumber 1
	// vs. the query's zero-value incarnation) is always fresh —
	// simulating a recrawl or process restart having
	// happened since that clock was issued.
	cur := clock.Clock{Incarnation: clock.Incarnation{RootNumber: 1}, Ticks: 4}
	spec := clock.Spec{Kind: clock.KindClock, ClockVal: clock.Clock{Ticks: 0}}

	resp := exec(t, view, &Query{Since: &spec}, cur)
	require.True(t, resp.IsFreshInstance)
	assert.NotContains(t, names(resp), "gone.txt")
	assert.Contains(t, names(resp), "a.txt")
}

func TestDedupGlobResults(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{Glob: &GlobSet{Patterns: []string{"src/**/*.h", "src/a/**"}}}, cur)

	assert.Equal(t, []string{"src/a/b/x.h"}, names(resp))
}

func TestRelativeRootRewritesNames(t *testing.T) {
	view, _ := newFixture(t)
	cur := clock.Clock{Ticks: 4}

	resp := exec(t, view, &Query{RelativeRoot: "src", Suffixes: []string{"c"}}, cur)
	assert.Equal(t, []string{"y.c"}, names(resp))
}
