package pipeline

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/autopeer-io/bankupdate/pkg/log"
)

// copyConfig carries device-local files (network setup, keys, hostname) from the
// running bank into a freshly written one. Each path is absolute and relative to the
// bank roots; directories are copied recursively. Missing sources are skipped.
func copyConfig(fromRoot, toRoot string, files []string) (int, error) {
	copied := 0
	for _, name := range files {
		src := filepath.Join(fromRoot, name)
		dst := filepath.Join(toRoot, name)

		fi, err := os.Lstat(src)
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("Config file missing on running bank, skipping", "path", name)
			continue
		}
		if err != nil {
			return copied, err
		}

		if !fi.IsDir() {
			if err := copyEntry(src, dst, fi); err != nil {
				return copied, fmt.Errorf("copy %s: %w", name, err)
			}
			copied++
			continue
		}

		err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src, p)
			if err != nil {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if err := copyEntry(p, filepath.Join(dst, rel), info); err != nil {
				return err
			}
			if !d.IsDir() {
				copied++
			}
			return nil
		})
		if err != nil {
			return copied, fmt.Errorf("copy %s: %w", name, err)
		}
	}
	return copied, nil
}

func copyEntry(src, dst string, fi fs.FileInfo) error {
	switch {
	case fi.IsDir():
		return os.MkdirAll(dst, fi.Mode().Perm()|0o700)
	case fi.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Symlink(target, dst)
	case fi.Mode().IsRegular():
		return copyFile(src, dst, fi.Mode().Perm())
	}
	log.Warn("Skipping special file", "path", src)
	return nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	t, err := renameio.TempFile(filepath.Dir(dst), dst)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	if err := t.Chmod(mode); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
