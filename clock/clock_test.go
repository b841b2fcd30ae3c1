package clock

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestParseSpecTimestamp(t *testing.T) {
	s, err := ParseSpec("1700000000")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != KindTimestamp || s.Timestamp != 1700000000 {
		t.Errorf("got %+v", s)
	}
}

func TestParseSpecCursor(t *testing.T) {
	s, err := ParseSpec("n:mycursor")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != KindCursor || s.Cursor != "mycursor" {
		t.Errorf("got %+v", s)
	}
}

func TestParseSpecClock(t *testing.T) {
	s, err := ParseSpec("c:1700000000:123:4:99")
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != KindClock {
		t.Fatalf("got %+v", s)
	}
	want := Clock{Incarnation{1700000000, 123, 4}, 99}
	if s.ClockVal != want {
		t.Errorf("got %+v want %+v", s.ClockVal, want)
	}
}

func TestParseSpecLegacyClock(t *testing.T) {
	s, err := ParseSpec("c:123:99")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Legacy || s.ClockVal.StartTime != 0 || s.ClockVal.RootNumber != 0 || s.ClockVal.Pid != 123 || s.ClockVal.Ticks != 99 {
		t.Errorf("got %+v", s)
	}
}

func TestParseSpecInvalid(t *testing.T) {
	if _, err := ParseSpec("c:nope"); err == nil {
		t.Error("expected error")
	}
	if _, err := ParseSpec("garbage string"); err == nil {
		t.Error("expected error")
	}
}

func TestClockStringRoundTrip(t *testing.T) {
	c := Clock{Incarnation{1700000000, 42, 7}, 1234}
	s, err := ParseSpec(c.String())
	if err != nil {
		t.Fatal(err)
	}
	if s.ClockVal != c {
		t.Errorf("round trip mismatch: got %+v want %+v", s.ClockVal, c)
	}
}

func TestResolveFreshInstanceOnIncarnationMismatch(t *testing.T) {
	cur := Clock{Incarnation{100, 1, 1}, 50}
	spec := Spec{Kind: KindClock, ClockVal: Clock{Incarnation{100, 1, 2}, 10}}
	res := ResolveReadOnly(spec, cur, 0, NewCursorMap())
	if !res.IsFresh {
		t.Error("expected fresh instance on incarnation mismatch")
	}
}

func TestResolveFreshOnAgedOutTicks(t *testing.T) {
	cur := Clock{Incarnation{100, 1, 1}, 50}
	spec := Spec{Kind: KindClock, ClockVal: Clock{Incarnation{100, 1, 1}, 5}}
	res := ResolveReadOnly(spec, cur, 10, NewCursorMap())
	if !res.IsFresh {
		t.Error("expected fresh instance: since.ticks(5) < last_age_out_tick(10)")
	}
}

func TestCursorIdempotence(t *testing.T) {
	cursors := NewCursorMap()
	cur := Clock{Incarnation{100, 1, 1}, 50}
	spec := Spec{Kind: KindCursor, Cursor: "c1"}

	first := ResolveReadWrite(spec, cur, 0, cursors)
	if !first.IsFresh {
		t.Error("unknown cursor must resolve fresh")
	}

	// Second resolve, no intervening change: cur.Ticks unchanged.
	second := ResolveReadWrite(spec, cur, 0, cursors)
	if second.IsFresh {
		t.Error("known cursor above last_age_out_tick=0 should not be fresh")
	}
	if second.EffectiveTicks != cur.Ticks {
		t.Errorf("expected effective ticks to equal current tick on second resolve, got %d want %d", second.EffectiveTicks, cur.Ticks)
	}
}

func TestCookieSetSyncToNow(t *testing.T) {
	fs := afero.NewMemMapFs()
	cs := NewCookieSet(fs, "/root")

	done := make(chan struct{})
	var seenPath string
	go func() {
		p, err := cs.SyncToNow(context.Background(), time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		seenPath = p
		close(done)
	}()

	// Simulate the IO thread observing the cookie after a short delay.
	var path string
	for i := 0; i < 100; i++ {
		time.Sleep(time.Millisecond)
		entries, _ := afero.ReadDir(fs, "/root")
		if len(entries) > 0 {
			path = "/root/" + entries[0].Name()
			break
		}
	}
	if path == "" {
		t.Fatal("cookie file was never created")
	}
	if !cs.IsCookie(path) {
		t.Fatalf("IsCookie(%q) = false", path)
	}
	if !cs.Notify(path) {
		t.Fatal("Notify did not find pending cookie")
	}
	<-done
	if seenPath != path {
		t.Errorf("seenPath = %q, want %q", seenPath, path)
	}
}

func TestCookieSetTimeout(t *testing.T) {
	fs := afero.NewMemMapFs()
	cs := NewCookieSet(fs, "/root")
	_, err := cs.SyncToNow(context.Background(), 10*time.Millisecond)
	if err != ErrTimedOut {
		t.Errorf("got %v, want ErrTimedOut", err)
	}
}

func TestCookieSetAbandonFailsWaiters(t *testing.T) {
	fs := afero.NewMemMapFs()
	cs := NewCookieSet(fs, "/root")

	errCh := make(chan error, 1)
	go func() {
		_, err := cs.SyncToNow(context.Background(), 30*time.Second)
		errCh <- err
	}()

	// Wait for the cookie file to exist so the waiter is registered.
	deadline := time.Now().Add(time.Second)
	for {
		entries, _ := afero.ReadDir(fs, "/root")
		if len(entries) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cookie file was never created")
		}
		time.Sleep(time.Millisecond)
	}

	cs.Abandon()

	select {
	case err := <-errCh:
		if err != ErrAbandoned {
			t.Errorf("got %v, want ErrAbandoned", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SyncToNow did not return after Abandon")
	}
}
