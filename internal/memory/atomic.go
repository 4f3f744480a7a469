package memory

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite writes data to path via write-temp → flush → atomic rename.
// A crash at any point leaves either the previous file or the new one,
// never a half-written file. This is the central correctness property of
// the store; every physical write in this package goes through it.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	// Persist the rename itself.
	syncDir(dir)
	return nil
}

// syncDir flushes a directory's entries. Best effort: some filesystems
// don't support syncing directories.
func syncDir(dir string) {
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
}

// atomicAppend appends line to the file at path with the same
// temp-and-rename discipline as AtomicWrite.
func atomicAppend(path string, line []byte) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read existing: %w", err)
	}
	buf := make([]byte, 0, len(existing)+len(line))
	buf = append(buf, existing...)
	buf = append(buf, line...)
	return AtomicWrite(path, buf)
}
