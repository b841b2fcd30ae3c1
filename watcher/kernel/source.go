package kernel

import "errors"

// ErrClosed is returned by Add/Remove after Close.
var ErrClosed = errors.New("kernel: source is closed")

// ErrNonExistentWatch is returned by Remove for a path that was never
// added.
var ErrNonExistentWatch = errors.New("kernel: path is not watched")

// ErrEventOverflow is delivered on Errors when the kernel dropped
// events (inotify IN_Q_OVERFLOW and friends). The consumer reacts by
// recrawling rather than trusting the event stream.
var ErrEventOverflow = errors.New("kernel: event queue overflowed")

// Capability flags a Source advertises, consumed by the watcher
// package to pick statPath/crawler policy.
type Capability uint8

const (
	// HasPerFileNotifications means the OS reports changes to
	// individual files directly, not just "this directory changed".
	HasPerFileNotifications Capability = 1 << iota
	// CoalescedRename means a rename shows up as a single event rather
	// than a from/to pair the caller must correlate.
	CoalescedRename
	// OnlyDirectoryNotifications means only directories can be
	// watched; file-level Add calls are rejected.
	OnlyDirectoryNotifications
	// HasSplitWatch means the Source is itself a composite that
	// routes root-level and subtree events through different
	// mechanisms.
	HasSplitWatch
)

func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// Source is the single-directory kernel event primitive that the
// watcher package's Watcher abstraction is built on.
// Implementations are not expected to be safe for concurrent Add/
// Remove/Close from multiple goroutines beyond what's documented per
// method.
type Source interface {
	// Capabilities reports this Source's fixed capability flags.
	Capabilities() Capability

	// Add installs a watch on a single directory or file. It must be
	// idempotent: adding an already-watched path is a no-op.
	Add(path string) error

	// Remove uninstalls a watch previously installed with Add.
	Remove(path string) error

	// Events returns the channel on which change notifications are
	// delivered.
	Events() <-chan Event

	// Errors returns the channel on which source-level errors
	// (including unrecoverable ones) are delivered.
	Errors() <-chan error

	// Close releases all kernel resources and closes the Events and
	// Errors channels.
	Close() error
}
