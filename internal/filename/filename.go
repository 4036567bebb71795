package filename

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ncruces/go-strftime"
)

const (
	DefaultDateFormat = "%Y-%m-%d_%H-%M-%S"
	DefaultName       = "recording"
	Extension         = ".wav"

	partSeparator = "_"
	TrimmedTag    = "trimmed"

	// Give up after this many counters rather than spin on a broken filesystem.
	maxCollisions = 100000
)

var (
	errTooManyCollisions = errors.New("could not find an unused filename")
	errBadDateFormat     = errors.New("unknown date format directive")
)

// The parts of a generated name. Mirrors the recording settings.
type Template struct {
	Dir        string
	Prefix     string
	DateFormat string
	Suffix     string
}

// A Generator hands out unique .wav filenames.
//
// A name is taken if a file of that name exists in the target directory or if
// this Generator has already returned it, so two calls at the same instant never
// collide even when nothing has been written yet. Safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	issued map[string]struct{}

	// Reports whether path already exists. Replaceable in tests.
	exists func(path string) bool
}

func NewGenerator() *Generator {
	return &Generator{
		issued: make(map[string]struct{}),
		exists: fileExists,
	}
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Build the name for a recording made at timestamp:
// prefix, formatted timestamp and suffix joined by underscores, plus ".wav".
// Empty parts are skipped. If the date format cannot be parsed the default format
// is used instead. If every part is empty the name is "recording.wav".
//
// On collision "_1", "_2", ... is appended before the extension. The returned name
// has no directory component.
func (g *Generator) Generate(template Template, timestamp time.Time) (string, error) {
	return g.claim(template.Dir, baseName(template, timestamp))
}

// Build a name for a trimmed copy of srcPath, in the same directory:
// "<stem>_trimmed.wav", then "<stem>_trimmed_1.wav", ...
// Returns the full path.
func (g *Generator) Trimmed(srcPath string) (string, error) {
	return g.Derived(srcPath, TrimmedTag)
}

// Like Trimmed, with tag in place of "trimmed".
func (g *Generator) Derived(srcPath, tag string) (string, error) {
	dir := filepath.Dir(srcPath)
	stem := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	base := Sanitize(stem)
	if tag = Sanitize(strings.TrimSpace(tag)); tag != "" {
		base += partSeparator + tag
	}
	if base == "" {
		base = DefaultName
	}
	name, err := g.claim(dir, base)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (g *Generator) claim(dir, base string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for counter := 0; counter < maxCollisions; counter++ {
		name := base + Extension
		if counter > 0 {
			name = fmt.Sprintf("%s%s%d%s", base, partSeparator, counter, Extension)
		}
		path := filepath.Join(dir, name)
		if _, taken := g.issued[path]; taken || g.exists(path) {
			continue
		}
		g.issued[path] = struct{}{}
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", errTooManyCollisions, filepath.Join(dir, base+Extension))
}

// Give back a path handed out by Generate or Derived that was never written,
// so the next call can return it again.
func (g *Generator) Release(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.issued, filepath.Clean(path))
}

func baseName(template Template, timestamp time.Time) string {
	parts := make([]string, 0, 3)
	if prefix := strings.TrimSpace(template.Prefix); prefix != "" {
		parts = append(parts, prefix)
	}
	if dateFormat := strings.TrimSpace(template.DateFormat); dateFormat != "" {
		parts = append(parts, FormatDate(dateFormat, timestamp))
	}
	if suffix := strings.TrimSpace(template.Suffix); suffix != "" {
		parts = append(parts, suffix)
	}

	base := Sanitize(strings.Join(parts, partSeparator))
	if base == "" {
		return DefaultName
	}
	return base
}

// Render timestamp with a strftime pattern, falling back to DefaultDateFormat
// when the pattern is not understood.
func FormatDate(dateFormat string, timestamp time.Time) string {
	if err := ValidateDateFormat(dateFormat); err != nil {
		dateFormat = DefaultDateFormat
	}
	return strftime.Format(dateFormat, timestamp)
}

// strftime directives FormatDate renders, as implemented by go-strftime.
const knownDirectives = "aAbBcCdDeFfgGhHIjklLmMnNpPQrRsStTuUvVwWxXyYzZ%+"

// Check that every directive in dateFormat is one FormatDate can render.
// A directive may carry a '-' (no padding) or ':' flag.
func ValidateDateFormat(dateFormat string) error {
	for i := 0; i < len(dateFormat); i++ {
		if dateFormat[i] != '%' {
			continue
		}
		i++
		if i < len(dateFormat) && (dateFormat[i] == '-' || dateFormat[i] == ':') {
			i++
		}
		if i == len(dateFormat) {
			return fmt.Errorf("%w: trailing %%", errBadDateFormat)
		}
		if !strings.ContainsRune(knownDirectives, rune(dateFormat[i])) {
			return fmt.Errorf("%w: %%%c", errBadDateFormat, dateFormat[i])
		}
	}
	return nil
}

// Replace characters that are not allowed in filenames on common filesystems
// with '-' and trim trailing dots and spaces (rejected on Windows).
func Sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7f:
			sb.WriteRune('-')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			sb.WriteRune('-')
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimRight(sb.String(), ". ")
}
