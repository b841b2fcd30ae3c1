package tree

import (
	"testing"
	"time"
)

func TestResolveDirCreatesIntermediate(t *testing.T) {
	v := New("/root")
	d := v.ResolveDir("/root/a/b", true)
	if d == nil {
		t.Fatal("expected dir")
	}
	if d.FullPath() != "/root/a/b" {
		t.Errorf("got %q", d.FullPath())
	}
	if v.ResolveDir("/root", true) != v.RootDir {
		t.Error("root dir mismatch")
	}
}

func TestResolveDirNoCreate(t *testing.T) {
	v := New("/root")
	if v.ResolveDir("/root/a/b", false) != nil {
		t.Error("expected nil for missing dir without create")
	}
}

func TestMarkFileChangedOrdersMRCList(t *testing.T) {
	v := New("/root")
	dir := v.RootDir
	now := time.Now()

	f1 := v.GetOrCreateChildFile(dir, "a.txt", 1, now)
	f2 := v.GetOrCreateChildFile(dir, "b.txt", 2, now)

	v.MarkFileChanged(f1, 10, now)
	v.MarkFileChanged(f2, 20, now)

	if v.MostRecentHead() != f2 {
		t.Fatalf("expected head to be f2 (most recent), got %v", v.MostRecentHead().Name)
	}
	if MRCNext(f2) != f1 {
		t.Errorf("expected f1 to follow f2 in the list")
	}
	if v.MostRecentTick != 20 {
		t.Errorf("MostRecentTick = %d, want 20", v.MostRecentTick)
	}

	// Re-touching f1 should move it back to the head.
	v.MarkFileChanged(f1, 30, now)
	if v.MostRecentHead() != f1 {
		t.Fatalf("expected head to be f1 after re-touch")
	}
}

func TestSuffixIndex(t *testing.T) {
	v := New("/root")
	dir := v.RootDir
	now := time.Now()

	v.GetOrCreateChildFile(dir, "a.TXT", 1, now)
	v.GetOrCreateChildFile(dir, "b.txt", 1, now)
	v.GetOrCreateChildFile(dir, "c.md", 1, now)

	count := 0
	for f := v.SuffixList("txt"); f != nil; f = SuffixNext(f) {
		count++
	}
	if count != 2 {
		t.Errorf("suffix index: got %d files with suffix txt, want 2", count)
	}
}

func TestViewInternerDedupsNameSplits(t *testing.T) {
	v := New("/root")
	now := time.Now()

	sub := v.ResolveDir("/root/sub", true)
	v.GetOrCreateChildFile(v.RootDir, "a.txt", 1, now)
	v.GetOrCreateChildFile(sub, "a.txt", 1, now)

	p1 := v.Interner().Intern("a.txt")
	p2 := v.Interner().Intern("a.txt")
	if p1 != p2 {
		t.Error("expected repeated observations of the same name to share one interned split")
	}
	if p1.Suffix() != "txt" {
		t.Errorf("Suffix() = %q, want %q", p1.Suffix(), "txt")
	}
}

func TestRemoveFileUnlinksEverywhere(t *testing.T) {
	v := New("/root")
	dir := v.RootDir
	now := time.Now()

	f := v.GetOrCreateChildFile(dir, "a.txt", 1, now)
	v.MarkFileChanged(f, 5, now)

	v.RemoveFile(f)

	if _, ok := dir.Files["a.txt"]; ok {
		t.Error("file still present in parent dir")
	}
	if v.SuffixList("txt") != nil {
		t.Error("file still present in suffix index")
	}
	if v.MostRecentHead() == f {
		t.Error("file still head of mrc list")
	}
}

func TestMarkDirDeletedRecursive(t *testing.T) {
	v := New("/root")
	now := time.Now()
	sub := v.ResolveDir("/root/sub", true)
	f1 := v.GetOrCreateChildFile(v.RootDir, "a.txt", 1, now)
	f1.Exists = true
	f2 := v.GetOrCreateChildFile(sub, "b.txt", 1, now)
	f2.Exists = true

	v.MarkDirDeleted(v.RootDir, 5, now, true)

	if f1.Exists || f2.Exists {
		t.Error("expected both files marked not existing")
	}
}
