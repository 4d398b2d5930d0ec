package pipeline

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"

	"github.com/autopeer-io/bankupdate/internal/bankd/hal"
	"github.com/autopeer-io/bankupdate/pkg/log"
)

// maxVersionSize bounds the version marker read from an artifact.
const maxVersionSize = 4 << 10

// manifest is what verification learns about an artifact.
type manifest struct {
	Version string
	Entries int
}

// openArtifact opens a staged .tar.zst and reports compressed bytes consumed.
func openArtifact(stagePath string, report ReportFunc) (*tar.Reader, func(), error) {
	f, err := os.Open(stagePath)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	zr, err := zstd.NewReader(&countingReader{r: f, total: st.Size(), report: report})
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("zstd: %w", err)
	}

	closeFn := func() {
		zr.Close()
		f.Close()
	}
	return tar.NewReader(zr), closeFn, nil
}

// cleanName returns the bank-relative form of an archive name, rejecting names that
// would land outside the bank.
func cleanName(name string) (string, error) {
	if path.IsAbs(name) {
		return "", fmt.Errorf("absolute entry name %q", name)
	}
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("entry name %q escapes the bank", name)
	}
	return cleaned, nil
}

// underLink reports whether name lies below one of the symlinks seen so far.
func underLink(name string, links map[string]struct{}) bool {
	for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, ok := links[dir]; ok {
			return true
		}
	}
	return false
}

// verify decodes the whole artifact and checks every entry.
func verify(ctx context.Context, stagePath string, report ReportFunc) (*manifest, error) {
	tr, closeFn, err := openArtifact(stagePath, report)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	m := &manifest{}
	links := make(map[string]struct{})
	seen := make(map[string]byte)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		m.Entries++

		name, err := cleanName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if underLink(name, links) {
			return nil, fmt.Errorf("entry %q is below a symlink", hdr.Name)
		}
		if prev, ok := seen[name]; ok && (prev != tar.TypeDir || hdr.Typeflag != tar.TypeDir) {
			return nil, fmt.Errorf("duplicate entry %q", hdr.Name)
		}
		seen[name] = hdr.Typeflag

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			links[name] = struct{}{}
		case tar.TypeLink:
			src, err := cleanName(hdr.Linkname)
			if err != nil {
				return nil, fmt.Errorf("hard link %q: %w", hdr.Name, err)
			}
			if _, ok := links[src]; ok || underLink(src, links) {
				return nil, fmt.Errorf("hard link %q points through a symlink", hdr.Name)
			}
		case tar.TypeReg:
			if name == hal.VersionFile {
				data, err := io.ReadAll(io.LimitReader(tr, maxVersionSize))
				if err != nil {
					return nil, err
				}
				m.Version = strings.TrimSpace(string(data))
			}
		}

		if _, err := io.Copy(io.Discard, tr); err != nil {
			return nil, fmt.Errorf("entry %q: %w", hdr.Name, err)
		}
	}

	if m.Entries == 0 {
		return nil, errors.New("artifact is empty")
	}
	if m.Version == "" {
		return nil, fmt.Errorf("artifact has no %s", hal.VersionFile)
	}
	return m, nil
}

// extract unpacks a verified artifact under root.
func extract(ctx context.Context, stagePath, root string, report ReportFunc) (int, error) {
	tr, closeFn, err := openArtifact(stagePath, report)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	chown := os.Geteuid() == 0
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, err
		}

		name, err := cleanName(hdr.Name)
		if err != nil {
			return files, err
		}
		if name == "." {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(name))
		if err := checkParents(root, target); err != nil {
			return files, err
		}
		if err := refuseSymlink(target); err != nil {
			return files, err
		}

		mode := fs.FileMode(hdr.Mode).Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			if err := os.Chmod(target, mode); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return files, err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return files, err
			}
		case tar.TypeLink:
			rel, err := cleanName(hdr.Linkname)
			if err != nil {
				return files, err
			}
			src := filepath.Join(root, filepath.FromSlash(rel))
			if err := checkParents(root, src); err != nil {
				return files, err
			}
			if err := refuseSymlink(src); err != nil {
				return files, err
			}
			if err := os.Link(src, target); err != nil {
				return files, err
			}
		default:
			log.Warn("Skipping unsupported archive entry", "name", hdr.Name, "type", string(hdr.Typeflag))
			continue
		}

		if chown {
			if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
				return files, err
			}
		}
		if hdr.Typeflag == tar.TypeReg {
			mtime := hdr.ModTime
			if err := os.Chtimes(target, time.Time{}, mtime); err != nil {
				return files, err
			}
		}
		files++
	}
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|unix.O_NOFOLLOW, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// refuseSymlink fails when p already exists as a symlink.
func refuseSymlink(p string) error {
	fi, err := os.Lstat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("refusing to write through symlink %s", p)
	}
	return nil
}

// checkParents refuses to write through a symlink that already exists under root.
func checkParents(root, target string) error {
	rel, err := filepath.Rel(root, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		fi, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("refusing to write %s through symlink %s", target, cur)
		}
	}
	return nil
}
