// Package pending implements the prefix-coalescing queue of paths
// awaiting stat/crawl, with recursive adds subsuming any already
// queued descendant.
package pending

import "time"

// Flags describes why a path was enqueued.
type Flags uint8

const (
	// ViaNotify marks an item that arrived from a kernel notification,
	// as opposed to being synthesized by the crawler itself.
	ViaNotify Flags = 1 << iota
	// Recursive means the whole subtree rooted at this path must be
	// (re)crawled, and subsumes any already-pending descendant.
	Recursive
	// CrawlOnly forces crawler (directory listing) treatment even for
	// a non-root path, bypassing statPath's usual file/dir branch.
	CrawlOnly
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Item is a single coalesced pending-queue entry.
type Item struct {
	Path      string
	Timestamp time.Time
	Flags     Flags
}
