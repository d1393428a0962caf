// Package layout maps cache keys to on-disk paths and provides the
// directory-tree bookkeeping (creation, size accounting, removal) the
// record store and garbage collector need. It is the "the filesystem is
// the index" piece: there is no separate index file.
package layout

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Layout binds a cache root directory and its directory-separation policy.
// Grounded on arvados's DiskCache.cacheFile/openFile (hash-prefixed
// subdirectory, create-parent-on-demand) and FlashDB's wal.Open MkdirAll
// idiom.
type Layout struct {
	Root      string
	Separated bool
	FS        afero.Fs
}

// New returns a Layout rooted at root. A nil fs defaults to the real OS
// filesystem.
func New(root string, separated bool, fs afero.Fs) *Layout {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Layout{Root: root, Separated: separated, FS: fs}
}

// SubDirectoryPathForKey returns the subdirectory a key's record would live
// under. When directory separation is disabled this is just Root.
func (l *Layout) SubDirectoryPathForKey(key string) string {
	if !l.Separated || len(key) < 2 {
		return l.Root
	}
	return filepath.Join(l.Root, key[:2])
}

// RecordPath returns the full record path for key without touching the
// filesystem. Read paths use this directly: a missing parent directory and
// a missing file both resolve to the same "not found" outcome.
func (l *Layout) RecordPath(key string) string {
	return filepath.Join(l.SubDirectoryPathForKey(key), key)
}

// PathForKey returns the full record path for key, creating the
// subdirectory on demand. Write paths call this.
func (l *Layout) PathForKey(key string) (string, error) {
	dir := l.SubDirectoryPathForKey(key)
	if err := l.FS.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, key), nil
}

// CreateCacheDirectory ensures the cache root exists.
func (l *Layout) CreateCacheDirectory() error {
	return l.FS.MkdirAll(l.Root, 0o755)
}

// RemoveDataForKey deletes the record file for key, if any. Missing files
// are not an error.
func (l *Layout) RemoveDataForKey(key string) error {
	dir := l.SubDirectoryPathForKey(key)
	err := l.FS.Remove(filepath.Join(dir, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveAllData deletes every record under the cache root (but not the
// root directory itself).
func (l *Layout) RemoveAllData() error {
	entries, err := afero.ReadDir(l.FS, l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if err := l.FS.RemoveAll(filepath.Join(l.Root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Entry describes one on-disk record file discovered while walking the
// cache tree.
type Entry struct {
	Key  string
	Path string
	Size int64
}

// Walk visits every record file under the cache root, skipping
// subdirectory entries themselves. The key is reconstructed as the file's
// base name, matching spec.md's "key == file name" convention.
func (l *Layout) Walk(fn func(Entry) error) error {
	root := l.Root
	return afero.Walk(l.FS, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		return fn(Entry{Key: info.Name(), Path: path, Size: info.Size()})
	})
}

// KeysWithPrefix returns every key in the tree whose name begins with
// prefix, for RecordStore.LoadWithPrefix.
func (l *Layout) KeysWithPrefix(prefix string) ([]string, error) {
	var keys []string
	err := l.Walk(func(e Entry) error {
		if strings.HasPrefix(e.Key, prefix) {
			keys = append(keys, e.Key)
		}
		return nil
	})
	return keys, err
}

// GetFileSizeAtPath stats path and returns its size, or 0 if it doesn't exist.
func (l *Layout) GetFileSizeAtPath(path string) (uint64, error) {
	info, err := l.FS.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(info.Size()), nil
}

// TotalUsedSizeInBytes sums the size of every record file in the tree.
func (l *Layout) TotalUsedSizeInBytes() (uint64, error) {
	var total uint64
	err := l.Walk(func(e Entry) error {
		total += uint64(e.Size)
		return nil
	})
	return total, err
}

// OptimizedDiskSizeForCacheSize returns how many bytes the garbage
// collector should free to bring currentSize down to sizeConstraintBytes.
// A sizeConstraintBytes of 0 means "unbounded" and always yields 0,
// matching the original source's early-exit contract.
func OptimizedDiskSizeForCacheSize(currentSize, sizeConstraintBytes uint64) int64 {
	if sizeConstraintBytes == 0 {
		return 0
	}
	excess := int64(currentSize) - int64(sizeConstraintBytes)
	if excess < 0 {
		return 0
	}
	return excess
}
