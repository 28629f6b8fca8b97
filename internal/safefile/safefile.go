// Package safefile reads and writes operator-supplied files: the config
// and connector fact exports. Reads refuse symlinks and oversized files;
// writes replace the target atomically.
package safefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	ErrSymlink  = errors.New("symbolic links are not accepted")
	ErrTooLarge = errors.New("file too large")
	ErrNotFile  = errors.New("not a regular file")
)

// ReadFile reads path if it is a regular file of at most maxBytes. The
// limit is enforced on the bytes actually read too, so a file that grows
// after the size check is still cut off.
func ReadFile(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if err := check(path, info, maxBytes); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%s: %w (max %d bytes)", path, ErrTooLarge, maxBytes)
	}
	return data, nil
}

func check(path string, info os.FileInfo, maxBytes int64) error {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return fmt.Errorf("%s: %w", path, ErrSymlink)
	case !info.Mode().IsRegular():
		return fmt.Errorf("%s: %w", path, ErrNotFile)
	case info.Size() > maxBytes:
		return fmt.Errorf("%s: %w (%d bytes, max %d)", path, ErrTooLarge, info.Size(), maxBytes)
	}
	return nil
}

// WriteFile writes data to a temp file beside path and renames it into
// place. An existing symlink at path is refused rather than followed.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%s: %w", path, ErrSymlink)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
