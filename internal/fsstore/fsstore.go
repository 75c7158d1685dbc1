// Package fsstore persists inbound media attachments on local disk. Writes
// are atomic (temp file + rename) so a crash mid-download never leaves a
// half-written receipt image behind.
package fsstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPath       = errors.New("fsstore: invalid path")
	ErrAtomicWriteFailed = errors.New("fsstore: atomic write failed")
)

const (
	defaultDirPerm  = os.FileMode(0o755)
	defaultFilePerm = os.FileMode(0o644)
)

func EnsureDir(path string) error {
	normalized, err := normalizePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(normalized, defaultDirPerm); err != nil {
		return fmt.Errorf("fsstore ensure dir %s: %w", normalized, err)
	}
	return nil
}

// WriteAtomic writes content to path via a temp file in the same directory
// followed by a rename.
func WriteAtomic(path string, content []byte) error {
	normalizedPath, err := normalizePath(path)
	if err != nil {
		return err
	}

	parentDir := filepath.Dir(normalizedPath)
	if err := EnsureDir(parentDir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(parentDir, filepath.Base(normalizedPath)+".tmp.*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", ErrAtomicWriteFailed, normalizedPath, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	defer cleanup()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("%w: write temp for %s: %v", ErrAtomicWriteFailed, normalizedPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp for %s: %v", ErrAtomicWriteFailed, normalizedPath, err)
	}
	if err := tmp.Chmod(defaultFilePerm); err != nil {
		return fmt.Errorf("%w: chmod temp for %s: %v", ErrAtomicWriteFailed, normalizedPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp for %s: %v", ErrAtomicWriteFailed, normalizedPath, err)
	}
	if err := os.Rename(tmpPath, normalizedPath); err != nil {
		return fmt.Errorf("%w: rename temp for %s: %v", ErrAtomicWriteFailed, normalizedPath, err)
	}

	// Best effort directory sync for durability; ignore failures.
	if dirFD, err := os.Open(parentDir); err == nil {
		_ = dirFD.Sync()
		_ = dirFD.Close()
	}
	return nil
}

// MediaStore lays attachments out as <root>/<phone>/<date>-<kind>-<id><ext>.
type MediaStore struct {
	root string
	now  func() time.Time
}

func NewMediaStore(root string) (*MediaStore, error) {
	normalized, err := normalizePath(root)
	if err != nil {
		return nil, err
	}
	if err := EnsureDir(normalized); err != nil {
		return nil, err
	}
	return &MediaStore{root: normalized, now: time.Now}, nil
}

// Save writes one attachment payload and returns its path.
func (s *MediaStore) Save(phone, kind, ext string, content []byte) (string, error) {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if phone == "" {
		return "", fmt.Errorf("%w: empty phone", ErrInvalidPath)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := fmt.Sprintf("%s-%s-%s%s", s.now().Format("20060102T150405"), kind, uuid.NewString()[:8], ext)
	path := filepath.Join(s.root, phone, name)
	if err := WriteAtomic(path, content); err != nil {
		return "", err
	}
	return path, nil
}

func normalizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	return filepath.Clean(path), nil
}
