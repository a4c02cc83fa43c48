package operator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// Concatenate implements spec.md §4.7: load each named YAML, merge at the
// top level (later overrides earlier), write the single merged YAML
// atomically. Used by the OSM extract stack to merge per-dataset mapping
// fragments into one mapping document before the Run operator invokes the
// external extractor (spec.md §4.4 step 6).
func Concatenate(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	destPath := filepath.Join(env.FS.Root, n.Output)
	if fsutil.FileSize(destPath) > 0 {
		env.logger(n).Debug("concatenate already satisfied", "path", destPath)
		return nil
	}

	merged := map[string]any{}
	for _, input := range n.InputStrings() {
		path := filepath.Join(env.FS.Root, input)
		doc, err := loadYAMLMap(path)
		if err != nil {
			return fmt.Errorf("load mapping fragment %q: %w", path, err)
		}
		for k, v := range doc {
			merged[k] = v
		}
	}

	return fsutil.WriteAtomic(destPath, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(merged)
	})
}

func loadYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return out, nil
}
