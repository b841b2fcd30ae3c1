// Package trigger implements a persistent binding of a query to a
// child-process command, re-evaluated at every settle point and
// spawned when the query yields results. It satisfies
// ioengine.Publisher, the same unilateral "settled" signal
// subscription.Manager listens to via ioengine.Dispatcher, so
// subscriptions and triggers fire off the exact same settle event.
package trigger

import (
	"bytes"

	"github.com/watchcore/watchcore/query"
)

// StdinStyle selects how a spawned command's stdin is populated.
type StdinStyle int

const (
	// StdinDevNull feeds the child an empty stdin.
	StdinDevNull StdinStyle = iota
	// StdinJSON writes the query's results array as JSON.
	StdinJSON
	// StdinNameList writes one matched file's name per line.
	StdinNameList
)

// Redirect names a file a spawned command's stdout/stderr should be
// written to, in either truncate or append mode.
type Redirect struct {
	Path   string
	Append bool
}

// Definition is everything needed to run one trigger:
// the query to re-evaluate, the command to run, its input style and
// redirections, and the append_files/max_files_stdin knobs governing
// how matched files reach the child.
//
// Raw carries the opaque definition payload the out-of-scope command
// layer would have parsed this Definition from (a JSON object). It is
// compared byte-for-byte by Equal so that registering a trigger with
// an identical definition is a no-op, without this package needing to
// know how to deep-compare a query.Query (whose Expr field is an open
// interface).
type Definition struct {
	Name          string
	Query         *query.Query
	Command       []string
	AppendFiles   bool
	Stdin         StdinStyle
	MaxFilesStdin int
	Stdout        *Redirect
	Stderr        *Redirect
	RelativeRoot  string
	Raw           []byte
}

// Equal reports whether d and other were registered from the same
// definition payload.
func (d Definition) Equal(other Definition) bool {
	return bytes.Equal(d.Raw, other.Raw)
}

// env is the fixed set of WATCHMAN_* variables injected into every
// spawned command. The names are the trigger's public, client-visible
// contract, not an internal identifier this module gets to rename.
type env struct {
	root          string
	sock          string
	trigger       string
	since         string // empty if no prior clock (WATCHMAN_SINCE unset)
	clock         string
	relativeRoot  string // empty if unset
	filesOverflow bool
}

func (e env) toPairs() []string {
	pairs := []string{
		"WATCHMAN_ROOT=" + e.root,
		"WATCHMAN_SOCK=" + e.sock,
		"WATCHMAN_TRIGGER=" + e.trigger,
		"WATCHMAN_CLOCK=" + e.clock,
	}
	if e.since != "" {
		pairs = append(pairs, "WATCHMAN_SINCE="+e.since)
	}
	if e.relativeRoot != "" {
		pairs = append(pairs, "WATCHMAN_RELATIVE_ROOT="+e.relativeRoot)
	}
	if e.filesOverflow {
		pairs = append(pairs, "WATCHMAN_FILES_OVERFLOW=true")
	} else {
		pairs = append(pairs, "WATCHMAN_FILES_OVERFLOW=false")
	}
	return pairs
}
