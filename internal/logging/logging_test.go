package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestForScopesRootField(t *testing.T) {
	entry := For("/root/project")
	assert.Equal(t, "/root/project", entry.Data["root"])
}

func TestComponentScopesComponentField(t *testing.T) {
	entry := Component("ioengine")
	assert.Equal(t, "ioengine", entry.Data["component"])
}

func TestSetLevelOverridesBaseLogger(t *testing.T) {
	t.Cleanup(func() { SetLevel(logrus.InfoLevel) })

	SetLevel(logrus.DebugLevel)
	assert.Equal(t, logrus.DebugLevel, base.GetLevel())

	SetLevel(logrus.WarnLevel)
	assert.Equal(t, logrus.WarnLevel, base.GetLevel())
}
