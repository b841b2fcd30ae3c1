package pending

import (
	"testing"
	"time"
)

func TestRecursiveSubsumesDescendant(t *testing.T) {
	q := New()
	now := time.Now()
	q.Add("R/d/f", now, 0)
	q.Add("R/d", now, Recursive)

	items := q.Drain()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1: %+v", len(items), items)
	}
	if items[0].Path != "R/d" || !items[0].Flags.Has(Recursive) {
		t.Errorf("got %+v", items[0])
	}
}

func TestAncestorRecursiveMakesChildAddNoOp(t *testing.T) {
	q := New()
	now := time.Now()
	q.Add("R/d", now, Recursive)
	q.Add("R/d/f", now, 0)

	items := q.Drain()
	if len(items) != 1 || items[0].Path != "R/d" {
		t.Fatalf("got %+v", items)
	}
}

func TestNonRecursiveDuplicatesFold(t *testing.T) {
	q := New()
	t1 := time.Now()
	t2 := t1.Add(time.Second)
	q.Add("R/a.txt", t1, ViaNotify)
	q.Add("R/a.txt", t2, CrawlOnly)

	items := q.Drain()
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
	if !items[0].Flags.Has(ViaNotify) || !items[0].Flags.Has(CrawlOnly) {
		t.Errorf("flags not OR-ed: %+v", items[0].Flags)
	}
	if !items[0].Timestamp.Equal(t2) {
		t.Errorf("timestamp not updated to latest")
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	q := New()
	q.Add("a", time.Now(), 0)
	if got := len(q.Drain()); got != 1 {
		t.Fatalf("got %d", got)
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("queue not emptied, len=%d", got)
	}
	if got := q.Drain(); got != nil {
		t.Fatalf("second drain not empty: %+v", got)
	}
}

func TestWaitTimesOut(t *testing.T) {
	q := New()
	start := time.Now()
	woken := q.Wait(20 * time.Millisecond)
	if woken {
		t.Error("expected timeout, got woken")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("returned too early")
	}
}

func TestPingWakesWait(t *testing.T) {
	q := New()
	done := make(chan bool)
	go func() { done <- q.Wait(time.Second) }()
	time.Sleep(10 * time.Millisecond)
	q.Ping()
	select {
	case woken := <-done:
		if !woken {
			t.Error("expected woken=true")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestUnrelatedSiblingsBothKept(t *testing.T) {
	q := New()
	now := time.Now()
	q.Add("R/d1/f", now, 0)
	q.Add("R/d2/f", now, 0)
	items := q.Drain()
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
}
