// Package posixio is the thin POSIX wrapper spec.md §4.4 asks for. The
// read/write/stat/close surface is satisfied directly by afero.Fs (real
// OS filesystem in production, in-memory for tests) — see DESIGN.md for
// why that is not a stdlib fallback. This package adds the one piece
// afero.Fs does not expose: fsync-ing a directory after a create/rename,
// which spec.md §5 calls "implementation-defined but recommended".
package posixio

import (
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// SyncFile calls Sync on f. Every afero.File implementation exposes Sync
// (a no-op on in-memory filesystems), so this never needs a type switch.
func SyncFile(f afero.File) error {
	return f.Sync()
}

// SyncDir fsyncs the directory at path, best-effort. Only real OS-backed
// filesystems support fsync-ing a directory descriptor; in-memory
// filesystems used in tests have no such concept, so fs is type-asserted
// to *afero.OsFs and the call is skipped (not an error) otherwise.
func SyncDir(fs afero.Fs, path string) error {
	if _, ok := fs.(*afero.OsFs); !ok {
		return nil
	}
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return unix.Fsync(int(dir.Fd()))
}
