package storage

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the directory holding path, readable only by the
// current user.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0700)
}
