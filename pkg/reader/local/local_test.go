package local

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestDiscoverSkipRules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "alipay.csv", "data")
	writeFile(t, dir, "bill.xlsx", "data")
	writeFile(t, dir, "old.csv.done", "data")
	writeFile(t, dir, "stale.archive", "data")
	writeFile(t, dir, "2025-01.archive.zip", "data")
	writeFile(t, dir, "test_fixture.csv", "data")
	writeFile(t, dir, "notes.txt", "data")

	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, sub, "wechat.zip", "data")

	items, err := NewWalker(nil).Discover([]string{dir})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	got := make(map[string]bool)
	for _, it := range items {
		got[it.Name] = true
		if !filepath.IsAbs(it.Identity) {
			t.Errorf("identity %q is not absolute", it.Identity)
		}
	}
	want := []string{"alipay.csv", "bill.xlsx", "wechat.zip"}
	if len(got) != len(want) {
		t.Fatalf("discovered %v, want %v", got, want)
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("missing %s", name)
		}
	}
}

func TestDiscoverExplicitSkippedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "old.csv.done", "data")

	items, err := NewWalker(nil).Discover([]string{path})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("a .done file named explicitly must still be skipped, got %d items", len(items))
	}
}

func TestMarkDone(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "alipay.csv", "data")

	target, err := MarkDone(path)
	if err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if target != path+".done" {
		t.Errorf("target = %s", target)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("original still present after MarkDone")
	}

	// Colliding marker gets a counter and keeps the .done suffix.
	writeFile(t, dir, "alipay.csv", "second")
	target2, err := MarkDone(path)
	if err != nil {
		t.Fatalf("second MarkDone: %v", err)
	}
	if target2 != path+".1.done" {
		t.Errorf("collision target = %s", target2)
	}
}

func TestArchivePreviousMonth(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	older := writeFile(t, dir, "a.csv.done", "jan")
	prev := writeFile(t, dir, "b.csv.done", "feb")
	cur := writeFile(t, dir, "c.csv.done", "march")
	if err := os.Chtimes(older, time.Time{}, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(prev, time.Time{}, time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(cur, time.Time{}, now); err != nil {
		t.Fatal(err)
	}

	if err := ArchivePreviousMonth(dir, now); err != nil {
		t.Fatalf("ArchivePreviousMonth: %v", err)
	}

	// Only February, the immediately preceding month, is compacted.
	if _, err := os.Stat(prev); !os.IsNotExist(err) {
		t.Errorf("%s should have been removed", prev)
	}
	if _, err := os.Stat(older); err != nil {
		t.Errorf("file from an earlier month must be left alone: %v", err)
	}
	if _, err := os.Stat(cur); err != nil {
		t.Errorf("current-month file must be left alone: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2025-01.archive.zip")); !os.IsNotExist(err) {
		t.Error("no archive may be created for months before the previous one")
	}

	assertArchiveMembers(t, filepath.Join(dir, "2025-02.archive.zip"), "b.csv.done")
}

func TestArchivePreviousMonthMergesExisting(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mtime := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)

	first := writeFile(t, dir, "a.csv.done", "one")
	if err := os.Chtimes(first, time.Time{}, mtime); err != nil {
		t.Fatal(err)
	}
	if err := ArchivePreviousMonth(dir, now); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	second := writeFile(t, dir, "b.csv.done", "two")
	if err := os.Chtimes(second, time.Time{}, mtime); err != nil {
		t.Fatal(err)
	}
	if err := ArchivePreviousMonth(dir, now); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	assertArchiveMembers(t, filepath.Join(dir, "2025-02.archive.zip"), "a.csv.done", "b.csv.done")
}

func assertArchiveMembers(t *testing.T, path string, want ...string) {
	t.Helper()
	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer r.Close()

	got := make(map[string]bool)
	for _, f := range r.File {
		got[f.Name] = true
	}
	if len(got) != len(want) {
		t.Fatalf("%s members = %v, want %v", filepath.Base(path), got, want)
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("%s missing member %s", filepath.Base(path), name)
		}
	}
}
