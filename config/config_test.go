package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDefaultValues pins the zero-value starting point Load stacks
// file/env/flag sources on top of.
func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.EqualValues(t, 86400_000, cfg.GCIntervalMS)
	assert.EqualValues(t, 0, cfg.IdleReapAgeMS, "reap disabled by default")
	assert.EqualValues(t, 300_000, cfg.GCAgeMS)
	assert.EqualValues(t, 20, cfg.TriggerSettleMS)
	assert.EqualValues(t, 60_000, cfg.SyncTimeoutMS)
	assert.Equal(t, []string{".git", ".hg", ".svn"}, cfg.VCSCookieDirs)
}

func TestDurationAccessorsConvertMillisecondFields(t *testing.T) {
	cfg := &Config{
		GCIntervalMS:    1000,
		IdleReapAgeMS:   2000,
		GCAgeMS:         3000,
		TriggerSettleMS: 4000,
		SyncTimeoutMS:   5000,
	}

	assert.Equal(t, time.Second, cfg.GCInterval())
	assert.Equal(t, 2*time.Second, cfg.IdleReapAge())
	assert.Equal(t, 3*time.Second, cfg.GCAge())
	assert.Equal(t, 4*time.Second, cfg.TriggerSettle())
	assert.Equal(t, 5*time.Second, cfg.SyncTimeout())
}

func TestConfigPathReflectsWhetherSet(t *testing.T) {
	cfg := Default()
	path, ok := cfg.ConfigPath()
	assert.Empty(t, path)
	assert.False(t, ok)

	cfg.Path = "/etc/watchcore.yaml"
	path, ok = cfg.ConfigPath()
	assert.Equal(t, "/etc/watchcore.yaml", path)
	assert.True(t, ok)
}
