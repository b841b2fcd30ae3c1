// Package config loads watchcore's daemon configuration. The JSON
// command-dispatch layer is out of scope, but the knobs it would
// otherwise read from are not: GC interval, idle reap age, trigger
// settle, the filesystem-type/root-restrict-files gate, and the
// hint_num_files_per_dir sizing hint. Config loads them from a
// YAML file stacked with environment variables and flags, via
// github.com/vimeo/dials's ez helper — the same "stack sources, last
// one wins" pattern vimeo/dials's own tests exercise.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/vimeo/dials/ez"
)

// Config holds every knob the core engine (as opposed to the
// out-of-scope wire protocol) consults. Durations are expressed in
// milliseconds in the YAML/env/flag surface (Dials fields carry plain
// ints, matching vimeo/dials's own examples, which favor primitive
// field types over time.Duration for portability across decoders)
// and converted to time.Duration by the accessor methods below.
type Config struct {
	// Path names the YAML config file to stack under env/flags; empty
	// means no file source. The dials tag keeps the env/flag spelling
	// (CONFIGPATH, --config-path) aligned with what the ConfigPath
	// method below reports.
	Path string `dials:"ConfigPath"`

	// GCIntervalMS bounds the IO thread's settle-wait backoff.
	GCIntervalMS int64 `dials:"GCIntervalMS"`

	// IdleReapAgeMS is how long a root may go untouched before reap
	// cancels its watch.
	IdleReapAgeMS int64 `dials:"IdleReapAgeMS"`

	// GCAgeMS is minAge in the age-out pass: how long a
	// deleted node must sit before it is reclaimed.
	GCAgeMS int64 `dials:"GCAgeMS"`

	// TriggerSettleMS is the IO loop's initial/reset settle timeout.
	TriggerSettleMS int64 `dials:"TriggerSettleMS"`

	// SyncTimeoutMS is the default sync_timeout applied to a query
	// that doesn't specify one.
	SyncTimeoutMS int64 `dials:"SyncTimeoutMS"`

	// HintNumFilesPerDir is the fallback directory-size hint used when
	// st_nlink isn't informative.
	HintNumFilesPerDir int `dials:"HintNumFilesPerDir"`

	// IllegalFSTypes rejects watches rooted on these filesystem type
	// names.
	IllegalFSTypes []string `dials:"IllegalFSTypes"`

	// IllegalFSTypesAdvice is the user-visible advice string returned
	// alongside an IllegalFSTypes rejection.
	IllegalFSTypesAdvice string `dials:"IllegalFSTypesAdvice"`

	// RootRestrictFiles requires at least one of these marker files to
	// be present directly under a root before it may be watched.
	RootRestrictFiles []string `dials:"RootRestrictFiles"`

	// VCSCookieDirs names the VCS-internal subdirectories checked, in
	// order, as the cookie directory before falling back to the root.
	VCSCookieDirs []string `dials:"VCSCookieDirs"`

	// WatchSymlinks enables tracking a separate pending_symlink_targets
	// list when a symlink's target changes.
	WatchSymlinks bool `dials:"WatchSymlinks"`
}

// ConfigPath implements ez.ConfigWithConfigPath so YAMLConfigEnvFlag
// knows which file to read, following vimeo/dials's own
// ConfigWithConfigPath contract.
func (c *Config) ConfigPath() (string, bool) {
	return c.Path, c.Path != ""
}

// Default returns the hardcoded out-of-the-box values, used as the
// zero-value starting point before Load stacks file/env/flag sources
// on top.
func Default() *Config {
	return &Config{
		GCIntervalMS:         86400_000,
		IdleReapAgeMS:        0, // 0 disables reap
		GCAgeMS:              300_000,
		TriggerSettleMS:      20,
		SyncTimeoutMS:        60_000,
		HintNumFilesPerDir:   64,
		IllegalFSTypesAdvice: "",
		VCSCookieDirs:        []string{".git", ".hg", ".svn"},
	}
}

// Load stacks a YAML config file (if path is non-empty), environment
// variables, and command-line flags over the defaults, exactly as
// ez.YAMLConfigEnvFlag is designed to be used.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	cfg.Path = path
	d, err := ez.YAMLConfigEnvFlag(ctx, cfg, ez.Params[Config]{})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return d.View(), nil
}

// GCInterval, IdleReapAge, GCAge, TriggerSettle, and SyncTimeout expose
// the millisecond fields as time.Duration for the engine packages.
func (c *Config) GCInterval() time.Duration    { return time.Duration(c.GCIntervalMS) * time.Millisecond }
func (c *Config) IdleReapAge() time.Duration   { return time.Duration(c.IdleReapAgeMS) * time.Millisecond }
func (c *Config) GCAge() time.Duration         { return time.Duration(c.GCAgeMS) * time.Millisecond }
func (c *Config) TriggerSettle() time.Duration { return time.Duration(c.TriggerSettleMS) * time.Millisecond }
func (c *Config) SyncTimeout() time.Duration   { return time.Duration(c.SyncTimeoutMS) * time.Millisecond }
