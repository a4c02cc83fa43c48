package operator

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// Unzip implements spec.md §4.7: extract into a sibling temp directory; if
// the target extension is a shapefile, move the full sidecar family (same
// stem, any extension) and rename to the target stem; otherwise pick the
// single largest file matching the target extension and rename. Grounded on
// the teacher's KMZ extraction in extractor.go (archive/zip walk, per-file
// extraction helper).
func Unzip(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	src, _ := n.Input.(string)
	if src == "" {
		return fmt.Errorf("unzip node %q has no source archive", n.Name)
	}
	srcPath := filepath.Join(env.FS.Root, src)
	destPath := filepath.Join(env.FS.Root, n.Output)

	if fsutil.FileSize(destPath) > 0 {
		env.logger(n).Debug("unzip already satisfied", "path", destPath)
		return nil
	}

	extractDir := destPath + ".extract"
	if err := os.RemoveAll(extractDir); err != nil {
		return fmt.Errorf("clear extraction directory %q: %w", extractDir, err)
	}
	defer os.RemoveAll(extractDir)

	if err := extractZipTo(srcPath, extractDir); err != nil {
		return &errs.DataError{Detail: "extract archive " + srcPath, Err: err}
	}

	targetExt := filepath.Ext(n.Output)
	if targetExt == ".shp" {
		return moveShapefileFamily(extractDir, destPath)
	}
	return moveLargestMatch(extractDir, targetExt, destPath)
}

func extractZipTo(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open zip %q: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		in, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			in.Close()
			return err
		}
		_, copyErr := io.Copy(out, in)
		in.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func moveLargestMatch(extractDir, targetExt, destPath string) error {
	best, err := fsutil.LargestMatching(extractDir, targetExt)
	if err != nil {
		return fmt.Errorf("find largest %s in extracted archive: %w", targetExt, err)
	}
	return fsutil.RenameInto(best, destPath)
}

func moveShapefileFamily(extractDir, destPath string) error {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return fmt.Errorf("read extraction directory: %w", err)
	}
	var stem string
	for _, e := range entries {
		if strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			stem = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			break
		}
	}
	if stem == "" {
		return fmt.Errorf("no .shp file found in extracted archive")
	}
	family, err := fsutil.SidecarFamily(extractDir, stem)
	if err != nil {
		return fmt.Errorf("collect shapefile sidecar family: %w", err)
	}
	destStem := strings.TrimSuffix(destPath, filepath.Ext(destPath))
	for _, member := range family {
		memberDest := destStem + filepath.Ext(member)
		if err := fsutil.RenameInto(member, memberDest); err != nil {
			return err
		}
	}
	return nil
}
