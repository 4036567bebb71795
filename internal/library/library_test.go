package library

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatal(err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	touch(t, filepath.Join(dir, "old.wav"), 2048, base)
	touch(t, filepath.Join(dir, "new.WAV"), 1024, base.Add(2*time.Hour))
	touch(t, filepath.Join(dir, "mid.wav"), 10, base.Add(time.Hour))
	touch(t, filepath.Join(dir, "notes.txt"), 10, base.Add(3*time.Hour))
	if err := os.Mkdir(filepath.Join(dir, "folder.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := Recent(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"new.WAV", "mid.wav", "old.wav"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if entries[2].String() != "old.wav   |   2 KB" {
		t.Errorf("String() = %q", entries[2].String())
	}
}

func TestRecentLimit(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 50 {
		touch(t, filepath.Join(dir, time.Duration(i).String()+".wav"), 1, base.Add(time.Duration(i)*time.Minute))
	}

	entries, err := Recent(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != DefaultLimit {
		t.Errorf("got %d entries, want %d", len(entries), DefaultLimit)
	}

	entries, err = Recent(dir, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 || entries[0].Name != "49ns.wav" {
		t.Errorf("got %d entries starting %q", len(entries), entries[0].Name)
	}
}

func TestRecentMissingDir(t *testing.T) {
	entries, err := Recent(filepath.Join(t.TempDir(), "nope"), 10)
	if err != nil || len(entries) != 0 {
		t.Errorf("got %v, %v; want no entries and no error", entries, err)
	}
}
