// Package library lists the recordings in a save directory.
package library

import (
	"cmp"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hmcalister/wavetrim/internal/filename"
)

const DefaultLimit = 40

type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// e.g. "recording_2024-01-01_12-00-00.wav   |   512 KB"
func (e Entry) String() string {
	return fmt.Sprintf("%s   |   %d KB", e.Name, (e.Size+512)/1024)
}

// The newest .wav files in dir, newest first, at most limit of them.
// A non-positive limit means DefaultLimit. A missing directory yields no entries.
func Recent(dir string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		slog.Error("could not read recordings directory", "dir", dir, "err", err)
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), filename.Extension) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between listing and stat.
			continue
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Path:    filepath.Join(dir, d.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
