// Package storage is the thin blob-store collaborator slices and manifests
// are written through.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/menta2k/sprite-splitter/internal/utils"
)

// SliceStore abstracts the output location of one run. Write must be
// atomic: a name either holds the complete data or does not exist.
type SliceStore interface {
	Write(name string, data []byte) error
	Read(name string) ([]byte, error)
	List() ([]string, error)
}

// Local is a SliceStore rooted at a flat directory on the local filesystem.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed and returns a store rooted there.
func NewLocal(dir string) (*Local, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the directory the store is rooted at.
func (s *Local) Dir() string {
	return s.dir
}

// Write stores data under name via a temp file and rename, so a partially
// written slice is never visible.
func (s *Local) Write(name string, data []byte) error {
	return utils.AtomicWriteFile(filepath.Join(s.dir, utils.SanitizeFilename(name)), data)
}

// Read returns the contents stored under name.
func (s *Local) Read(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, utils.SanitizeFilename(name)))
}

// List returns the names present in the store, sorted.
func (s *Local) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
