// Package scan implements the folder walker and worker pool that discover
// and register files into a tenant's index.db, plus the continuous-scan
// epoch actor that watches folders for live changes, per spec.md §4.3.
// Grounded on the teacher's internal/scanner package: the same
// channel-streaming discovery model and runtime.NumCPU()-sized worker
// pool, generalized from a Git-repository code scanner into a general
// media-file scanner using bmatcuk/doublestar/v4 glob matching in place of
// the teacher's gitignore-only matcher.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FolderConfig is one configured root to scan, spec.md §3's folders table.
type FolderConfig struct {
	Path      string
	Included  bool
	Extensions []string // empty means "all"
	ExcludePatterns []string // doublestar glob patterns, matched against the path relative to Path
}

// DiscoveredFile is one file the walker yields before hashing/extraction.
type DiscoveredFile struct {
	Path        string
	Info        fs.FileInfo
}

// isHidden reports whether a single path component name begins with '.'
// or '~', spec.md §4.3's hidden-file filtering rule. The walker applies it
// to each entry it visits and skips hidden directories whole.
func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~")
}

func matchesExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func matchesExclusion(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Walk streams every eligible file under cfg.Path to the returned channel,
// closing it when the walk completes or ctx is cancelled. Directories
// (and their descendants) matching an exclude pattern, or whose name is
// hidden, are pruned entirely rather than merely skipped, so a large
// excluded subtree costs a single stat instead of a full descent.
func Walk(ctx context.Context, cfg FolderConfig) (<-chan DiscoveredFile, <-chan error) {
	out := make(chan DiscoveredFile, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		err := filepath.Walk(cfg.Path, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil // skip unreadable entries, don't abort the whole walk
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			name := info.Name()
			if path != cfg.Path && isHidden(name) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			rel, relErr := filepath.Rel(cfg.Path, path)
			if relErr != nil {
				rel = path
			}

			if info.IsDir() {
				if path != cfg.Path && matchesExclusion(rel, cfg.ExcludePatterns) {
					return filepath.SkipDir
				}
				return nil
			}

			if matchesExclusion(rel, cfg.ExcludePatterns) {
				return nil
			}
			if !matchesExtension(path, cfg.Extensions) {
				return nil
			}

			select {
			case out <- DiscoveredFile{Path: path, Info: info}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil && err != context.Canceled {
			errs <- err
		}
	}()

	return out, errs
}
