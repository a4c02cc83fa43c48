package operator

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// Run implements spec.md §4.7: invoke an external extractor subprocess with
// the concatenated YAML and the OSM binary (or the OpenLibrary YAML),
// streaming output to the log, writing to a temp path and renaming on zero
// exit, grounded on the teacher's tiles.go tippecanoe/tile-join
// exec.CommandContext + CombinedOutput idiom.
func Run(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	destPath := filepath.Join(env.FS.Root, n.Output)
	if fsutil.FileSize(destPath) > 0 {
		env.logger(n).Debug("run already satisfied", "path", destPath)
		return nil
	}

	switch n.NodeType {
	case graph.TypeOSMRunner:
		return runOSMExtractor(ctx, n, env, destPath)
	case graph.TypeOpenLibraryRunner:
		return runOpenLibraryImporter(ctx, n, env, destPath)
	default:
		return fmt.Errorf("run node %q has unsupported node type %q", n.Name, n.NodeType)
	}
}

func runOSMExtractor(ctx context.Context, n *graph.Node, env Env, destPath string) error {
	var mapping, osmBinary string
	for _, c := range n.Children {
		switch c.NodeType {
		case graph.TypeOSMConcatenator:
			mapping = filepath.Join(env.FS.Root, c.Output)
		case graph.TypeOSMDownloader:
			osmBinary = filepath.Join(env.FS.Root, c.Output)
		}
	}
	if mapping == "" || osmBinary == "" {
		return fmt.Errorf("osm-runner %q is missing its concatenator/downloader children", n.Name)
	}

	outStem := strings.TrimSuffix(destPath, filepath.Ext(destPath))
	tool := env.Tools.OSMExtractor
	if tool == "" {
		tool = "extract"
	}
	cmd := exec.CommandContext(ctx, tool, "-m", mapping, osmBinary, outStem)
	if err := runStreamed(cmd, env.logger(n)); err != nil {
		return err
	}
	produced := outStem + ".gpkg"
	if produced == destPath {
		return nil
	}
	return fsutil.RenameInto(produced, destPath)
}

func runOpenLibraryImporter(ctx context.Context, n *graph.Node, env Env, destPath string) error {
	url, _ := n.Input.(string)
	if url == "" {
		return fmt.Errorf("openlibrary-runner %q has no source url", n.Name)
	}
	srcPath := filepath.Join(env.FS.Root, "downloads/openlibrary", filepath.Base(url))
	if fsutil.FileSize(srcPath) == 0 {
		if err := env.Fetcher.FetchTo(ctx, url, srcPath); err != nil {
			return fmt.Errorf("fetch openlibrary source %q: %w", url, err)
		}
	}

	outStem := strings.TrimSuffix(destPath, filepath.Ext(destPath))
	tool := env.Tools.ImportTool
	if tool == "" {
		tool = "openlibrary-import"
	}
	cmd := exec.CommandContext(ctx, tool, srcPath, outStem)
	if err := runStreamed(cmd, env.logger(n)); err != nil {
		return err
	}
	produced := outStem + ".gpkg"
	if produced == destPath {
		return nil
	}
	return fsutil.RenameInto(produced, destPath)
}

// runStreamed runs cmd, streaming each output line to the logger and
// surfacing a non-zero exit as errs.ExternalToolError (spec.md §4.7).
func runStreamed(cmd *exec.Cmd, logger interface {
	Info(msg string, args ...any)
}) error {
	out, err := cmd.CombinedOutput()
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		logger.Info("tool output", "line", scanner.Text())
	}
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &errs.ExternalToolError{Tool: cmd.Path, ExitCode: exitCode, Stderr: string(out)}
	}
	return nil
}
