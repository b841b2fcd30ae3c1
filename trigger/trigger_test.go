package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvToPairsOmitsUnsetOptionalVars(t *testing.T) {
	e := env{root: "/root", sock: "/tmp/sock", trigger: "t1", clock: "c:1:2:3:4"}
	pairs := e.toPairs()
	assert.Contains(t, pairs, "WATCHMAN_ROOT=/root")
	assert.Contains(t, pairs, "WATCHMAN_SOCK=/tmp/sock")
	assert.Contains(t, pairs, "WATCHMAN_TRIGGER=t1")
	assert.Contains(t, pairs, "WATCHMAN_CLOCK=c:1:2:3:4")
	assert.Contains(t, pairs, "WATCHMAN_FILES_OVERFLOW=false")
	for _, p := range pairs {
		assert.NotContains(t, p, "WATCHMAN_SINCE=", "no prior clock means WATCHMAN_SINCE must be unset")
		assert.NotContains(t, p, "WATCHMAN_RELATIVE_ROOT=")
	}
}

func TestEnvToPairsIncludesSinceAndRelativeRootWhenSet(t *testing.T) {
	e := env{root: "/root", sock: "/tmp/sock", trigger: "t1", clock: "c:1:2:3:4", since: "c:1:2:3:1", relativeRoot: "sub"}
	pairs := e.toPairs()
	assert.Contains(t, pairs, "WATCHMAN_SINCE=c:1:2:3:1")
	assert.Contains(t, pairs, "WATCHMAN_RELATIVE_ROOT=sub")
}

func TestEnvWithFilesOverflow(t *testing.T) {
	e := env{}
	e2 := e.withFilesOverflow(true)
	assert.False(t, e.filesOverflow, "withFilesOverflow must not mutate the receiver")
	assert.True(t, e2.filesOverflow)
}
