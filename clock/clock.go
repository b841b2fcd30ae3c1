// Package clock implements watchcore's logical clock, clockspec
// parsing/resolution, named cursors, and the cookie-based sync
// protocol.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Incarnation identifies one running instance of a watched root. It
// changes across process restarts (StartTime, Pid) and across
// recrawls of the same root path (RootNumber), which is exactly what
// makes old clock strings safely detectable as stale.
type Incarnation struct {
	StartTime  int64
	Pid        int
	RootNumber uint32
}

// rootNumbers allocates process-unique root numbers. Both a fresh
// resolve of a root path and a recrawl of an existing one draw from
// the same counter, so no two incarnations within one process lifetime
// can ever share a (StartTime, Pid, RootNumber) triple — the property
// that lets stale clock strings be detected.
var rootNumbers atomic.Uint32

// NextRootNumber returns a root number never before handed out by this
// process.
func NextRootNumber() uint32 {
	return rootNumbers.Add(1) - 1
}

// Clock is a point in a root's logical time: which incarnation, and
// how many ticks have elapsed in it.
type Clock struct {
	Incarnation
	Ticks uint32
}

// String renders the clock in its wire format,
// "c:<start_time_seconds>:<pid>:<root_number>:<ticks>".
func (c Clock) String() string {
	return fmt.Sprintf("c:%d:%d:%d:%d", c.StartTime, c.Pid, c.RootNumber, c.Ticks)
}

// SameIncarnation reports whether c and other were produced by the
// same running instance of a root.
func (c Clock) SameIncarnation(other Incarnation) bool {
	return c.Incarnation == other
}

// SpecKind discriminates the three surface forms a clockspec can take,
// plus the sentinel used for "no since given at all".
type SpecKind int

const (
	// KindNone means no clockspec was supplied; callers should treat
	// the query as unfiltered (generator-dependent default).
	KindNone SpecKind = iota
	KindTimestamp
	KindCursor
	KindClock
)

// Spec is a parsed clockspec: exactly one of Timestamp, Cursor, or
// ClockVal is meaningful, selected by Kind.
type Spec struct {
	Kind      SpecKind
	Timestamp int64
	Cursor    string
	ClockVal  Clock
	// Legacy records that this was the old two-field "c:<pid>:<ticks>"
	// form; it must parse and always be treated as a
	// fresh instance (zero StartTime and RootNumber already accomplish
	// that, but we keep the flag for diagnostics/logging).
	Legacy bool
}

// ParseSpec parses a clockspec string: an "n:" cursor, a "c:" clock
// string, or a plain decimal string taken as a unix timestamp. A JSON
// integer timestamp is not a string; callers that allow one build a
// Spec{Kind: KindTimestamp} directly instead of going through this
// parser (mirrors w_clockspec_parse's json_is_integer special case).
func ParseSpec(s string) (Spec, error) {
	switch {
	case strings.HasPrefix(s, "n:"):
		name := s[2:]
		if name == "" {
			return Spec{}, fmt.Errorf("clock: empty cursor name in %q", s)
		}
		return Spec{Kind: KindCursor, Cursor: name}, nil

	case strings.HasPrefix(s, "c:"):
		return parseClockString(s)

	default:
		// Accept a plain decimal as a unix timestamp, matching typical
		// JSON-string-encoded clockspecs.
		ts, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Spec{}, fmt.Errorf("clock: unrecognized clockspec %q", s)
		}
		return Spec{Kind: KindTimestamp, Timestamp: ts}, nil
	}
}

// parseClockString handles both "c:<start>:<pid>:<root>:<ticks>" and
// the legacy "c:<pid>:<ticks>" form.
func parseClockString(s string) (Spec, error) {
	fields := strings.Split(s[2:], ":")
	switch len(fields) {
	case 4:
		start, err1 := strconv.ParseInt(fields[0], 10, 64)
		pid, err2 := strconv.Atoi(fields[1])
		root, err3 := strconv.ParseUint(fields[2], 10, 32)
		ticks, err4 := strconv.ParseUint(fields[3], 10, 32)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return Spec{}, fmt.Errorf("clock: malformed clock string %q", s)
		}
		return Spec{
			Kind: KindClock,
			ClockVal: Clock{
				Incarnation: Incarnation{StartTime: start, Pid: pid, RootNumber: uint32(root)},
				Ticks:       uint32(ticks),
			},
		}, nil

	case 2:
		pid, err1 := strconv.Atoi(fields[0])
		ticks, err2 := strconv.ParseUint(fields[1], 10, 32)
		if err1 != nil || err2 != nil {
			return Spec{}, fmt.Errorf("clock: malformed legacy clock string %q", s)
		}
		// start_time and root_number zero: guarantees "fresh instance"
		// treatment
		return Spec{
			Kind:   KindClock,
			Legacy: true,
			ClockVal: Clock{
				Incarnation: Incarnation{StartTime: 0, Pid: pid, RootNumber: 0},
				Ticks:       uint32(ticks),
			},
		}, nil

	default:
		return Spec{}, fmt.Errorf("clock: malformed clock string %q", s)
	}
}
