// Package subscription implements per-client live queries that
// redeliver a diff at each settle point, subject to a drop/defer
// policy keyed on asserted VCS-style states.
package subscription

import (
	"sync"

	"github.com/watchcore/watchcore/clock"
	"github.com/watchcore/watchcore/query"
)

// Event is what a subscription delivers to its client: a non-empty
// settle-time dispatch, or the initial subscribe snapshot.
type Event struct {
	Subscription string
	Root         string
	Unilateral   bool
	Response     *query.Response
}

// Subscription is one client's live query: a name, a compiled query,
// a rolling since_spec, last_sub_tick, a defer_vcs flag, and a
// drop_or_defer policy map.
type Subscription struct {
	Name        string
	Query       *query.Query
	DeferVCS    bool
	DropOrDefer map[string]Policy
	Deliver     func(Event)

	mu          sync.Mutex
	sinceSpec   clock.Spec
	lastSubTick uint32
}

// NewSubscription builds a Subscription whose rolling since_spec
// starts from the query's own since clockspec, or the zero spec (fresh
// instance, "now") if none was given.
func NewSubscription(name string, q *query.Query, deferVCS bool, dropOrDefer map[string]Policy, deliver func(Event)) *Subscription {
	s := &Subscription{
		Name:        name,
		Query:       q,
		DeferVCS:    deferVCS,
		DropOrDefer: dropOrDefer,
		Deliver:     deliver,
	}
	if q.Since != nil {
		s.sinceSpec = *q.Since
	}
	return s
}
