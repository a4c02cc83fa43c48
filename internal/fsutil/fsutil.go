// Package fsutil lays out the build root (spec.md §6.4) and provides the
// tmp-shadow-then-rename idiom every C7 operator uses to write files,
// grounded on the teacher's tiles.go (copyFile, removeDirectoryContents,
// atomic-rename-on-success for generated tile directories).
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Layout is the build root directory tree of spec.md §6.4:
// downloads/{osm,openlibrary,...}, cache/, logs/, output/{layers,basemap},
// install/, tileserver-staging/, tileserver-live/, configs/.
type Layout struct {
	Root string
}

// NewLayout creates (if absent) every subdirectory of the build root and
// returns a Layout rooted there.
func NewLayout(root string) (*Layout, error) {
	l := &Layout{Root: root}
	for _, dir := range []string{
		l.Downloads(""),
		l.Downloads("osm"),
		l.Downloads("openlibrary"),
		l.Cache(),
		l.Logs(),
		l.Output(""),
		l.Output("layers"),
		l.Output("basemap"),
		l.Install(),
		l.TileserverStaging(),
		l.TileserverLive(),
		l.Configs(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create build root directory %q: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Layout) Downloads(sub string) string       { return filepath.Join(l.Root, "downloads", sub) }
func (l *Layout) Cache() string                     { return filepath.Join(l.Root, "cache") }
func (l *Layout) Logs() string                      { return filepath.Join(l.Root, "logs") }
func (l *Layout) Output(sub string) string          { return filepath.Join(l.Root, "output", sub) }
func (l *Layout) Install() string                   { return filepath.Join(l.Root, "install") }
func (l *Layout) TileserverStaging() string         { return filepath.Join(l.Root, "tileserver-staging") }
func (l *Layout) TileserverLive() string            { return filepath.Join(l.Root, "tileserver-live") }
func (l *Layout) Configs() string                   { return filepath.Join(l.Root, "configs") }

// WriteAtomic writes to path by first writing to a sibling ".tmp" shadow
// file via fn, then renaming into place, so a reader never observes a
// partially-written file (spec.md §4.7 Fetch/Run: "writes to a temp path and
// renames on success").
func WriteAtomic(path string, fn func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %q: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open shadow file %q: %w", tmp, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close shadow file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %q to %q: %w", tmp, path, err)
	}
	return nil
}

// RenameInto atomically moves src onto dst, used by operators (Unzip, Run)
// that produce their payload via an external tool and only need the final
// rename step, not the write-through-writer shape WriteAtomic offers.
func RenameInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %q: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("rename %q to %q: %w", src, dst, err)
	}
	return nil
}

// CopyFile copies src to dst, creating dst's parent directory as needed
// (teacher's tiles.go copyFile).
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %q: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent directory for %q: %w", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	return nil
}

// RemoveDirContents deletes every entry under dir without deleting dir
// itself, skipping .DS_Store. It stops at the first entry it cannot remove
// and returns that error (teacher's tiles.go removeDirectoryContents).
func RemoveDirContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.Name() == ".DS_Store" {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("remove %q: %w", full, err)
		}
	}
	return nil
}

// DirSize sums the size of every regular file under dir (teacher's tiles.go
// getDirectorySize).
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk directory %q: %w", dir, err)
	}
	return total, nil
}

// FileSize returns the size of path, tolerating a missing file as 0 (spec.md
// §4.6 "size queries... must tolerate unknown, treated as 0").
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// LargestMatching returns the largest file directly under dir whose name has
// the given extension (spec.md §4.7 Unzip: "picks the single largest file
// matching the target extension").
func LargestMatching(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read directory %q: %w", dir, err)
	}
	var best string
	var bestSize int64 = -1
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, e.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no file with extension %q found in %q", ext, dir)
	}
	return best, nil
}

// SidecarFamily returns every file directly under dir sharing stem's name
// (any extension), for moving a full shapefile sidecar family as one unit
// (spec.md §4.7 Unzip).
func SidecarFamily(dir, stem string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base := name[:len(name)-len(filepath.Ext(name))]
		if base == stem {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}
