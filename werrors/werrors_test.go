package werrors

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMapsSentinelsToKind(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{ErrNoSuchFileOrDirectory, KindNoSuchFileOrDirectory},
		{ErrNotADirectory, KindNotADirectory},
		{ErrTooManySymlinkLevels, KindTooManySymlinkLevels},
		{ErrPermissionDenied, KindPermissionDenied},
		{ErrSystemLimitsExceeded, KindSystemLimitsExceeded},
		{ErrTimedOut, KindTimedOut},
		{errors.New("boom"), KindUnknown},
	}
	for _, c := range cases {
		got := Classify(c.err)
		require.NotNil(t, got)
		assert.Equal(t, c.kind, got.Kind())
		assert.True(t, errors.Is(got, c.err))
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestKindStringNamesEveryKind(t *testing.T) {
	assert.Equal(t, "permission-denied", KindPermissionDenied.String())
	assert.Equal(t, "system-limits-exceeded", KindSystemLimitsExceeded.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestIsPoisoningOnlyTrueForSystemLimits(t *testing.T) {
	assert.True(t, IsPoisoning(ErrSystemLimitsExceeded))
	assert.False(t, IsPoisoning(ErrPermissionDenied))
	assert.False(t, IsPoisoning(nil))
}

func TestIsENOENTClassCoversExpectedTransientErrors(t *testing.T) {
	assert.True(t, IsENOENTClass(ErrNoSuchFileOrDirectory))
	assert.True(t, IsENOENTClass(ErrNotADirectory))
	assert.True(t, IsENOENTClass(ErrTooManySymlinkLevels))
	assert.False(t, IsENOENTClass(ErrPermissionDenied))
	assert.False(t, IsENOENTClass(nil))
}

func TestFromStatErrorMapsNotExist(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := fs.Stat("/nope")
	require.Error(t, err)

	mapped := FromStatError(err)
	assert.True(t, errors.Is(mapped, ErrNoSuchFileOrDirectory))
	assert.True(t, errors.Is(mapped, os.ErrNotExist))
}

func TestFromStatErrorNilIsNil(t *testing.T) {
	assert.Nil(t, FromStatError(nil))
}

func TestNewQueryParseAndExecCarryKind(t *testing.T) {
	p := NewQueryParse("bad term %q", "foo")
	assert.Equal(t, KindQueryParse, p.Kind())
	assert.Contains(t, p.Error(), "foo")

	e := NewQueryExec("exec failed: %v", errors.New("x"))
	assert.Equal(t, KindQueryExec, e.Kind())
}
