package pathutil

import lru "github.com/hashicorp/golang-lru/v2"

// Interner deduplicates Path construction. The crawler re-observes
// the same names on every settle; without interning, a busy root
// would reallocate the same split thousands of times a second.
// Capacity is bounded (unlike a plain map) so a watch over a
// filesystem with millions of transient paths doesn't grow unbounded —
// the least-recently-seen paths are simply re-split next time they're
// observed, which is harmless since Path is pure and immutable.
type Interner struct {
	cache *lru.Cache[string, *Path]
}

// DefaultInternerSize is the capacity used by NewDefaultInterner. It's
// sized generously for a single watched root's working set of
// frequently-observed names.
const DefaultInternerSize = 65536

// NewInterner creates an Interner with the given capacity. Capacity
// must be positive.
func NewInterner(capacity int) *Interner {
	c, err := lru.New[string, *Path](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0.
		panic(err)
	}
	return &Interner{cache: c}
}

// NewDefaultInterner creates an Interner sized for typical root usage.
func NewDefaultInterner() *Interner { return NewInterner(DefaultInternerSize) }

// Intern returns the canonical *Path for full, splitting and caching
// it on first observation.
func (in *Interner) Intern(full string) *Path {
	full = normalizeSeparators(full)
	if p, ok := in.cache.Get(full); ok {
		return p
	}
	p := New(full)
	in.cache.Add(full, p)
	return p
}

// Len reports the number of interned paths currently cached.
func (in *Interner) Len() int { return in.cache.Len() }
