// Package uploads keeps uploaded SoF documents on disk until their run expires.
package uploads

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Store writes uploads under a single directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating uploads directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Save stores data as "<runID>-<safe name>.<ext>" and returns the full path.
func (s *Store) Save(runID, filename string, data []byte) (string, error) {
	path := filepath.Join(s.dir, runID+"-"+SafeName(filename))
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// Remove deletes an upload. Missing files and paths outside the store are ignored.
func (s *Store) Remove(path string) error {
	if path == "" || !s.owns(path) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing upload %s: %w", path, err)
	}
	return nil
}

func (s *Store) owns(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

var (
	unsafeChars = regexp.MustCompile(`[^a-z0-9-]`)
	dashes      = regexp.MustCompile(`-+`)
)

// SafeName reduces an uploaded filename to lowercase letters, digits and
// hyphens, keeping its extension.
func SafeName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))

	stem = strings.NewReplacer(" ", "-", "_", "-", ".", "-").Replace(stem)
	stem = unsafeChars.ReplaceAllString(stem, "")
	stem = dashes.ReplaceAllString(stem, "-")
	stem = strings.Trim(stem, "-")
	if len(stem) > 50 {
		stem = strings.TrimRight(stem[:50], "-")
	}
	if stem == "" {
		stem = "document"
	}

	ext = unsafeChars.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

// WriteFileAtomic writes content to a file atomically by writing to a temp file first
// then renaming. This prevents partial writes on crash.
// Includes retry logic (up to 3 attempts with backoff).
func WriteFileAtomic(path string, content []byte) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond)
		}
		if err := writeFileAtomicOnce(path, content); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("after 3 attempts: %w", lastErr)
}

func writeFileAtomicOnce(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}

	success = true
	return nil
}
