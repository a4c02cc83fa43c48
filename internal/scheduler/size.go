package scheduler

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// prefetchSizes populates s.sizes for every node in batch that doesn't
// already have a cached value, issuing the size queries in parallel and
// tolerating "unknown" as zero (spec.md §4.6: "Size queries are issued in
// parallel, cached on the node, and must tolerate unknown (treated as 0)").
func (s *Scheduler) prefetchSizes(ctx context.Context, batch []*graph.Node) {
	var need []*graph.Node
	for _, n := range batch {
		s.mu.Lock()
		_, ok := s.sizes[n.URN]
		s.mu.Unlock()
		if !ok {
			need = append(need, n)
		}
	}
	if len(need) == 0 {
		return
	}

	var eg errgroup.Group
	for _, n := range need {
		n := n
		eg.Go(func() error {
			size := s.queryOneSize(ctx, n)
			s.mu.Lock()
			s.sizes[n.URN] = size
			s.mu.Unlock()
			return nil
		})
	}
	eg.Wait()
}

func (s *Scheduler) queryOneSize(ctx context.Context, n *graph.Node) int64 {
	switch n.Action {
	case graph.ActionDownload:
		url, _ := n.Input.(string)
		if url == "" || s.Env.Fetcher == nil {
			return 0
		}
		size, ok := s.Env.Fetcher.Size(ctx, url)
		if !ok {
			return 0
		}
		return size

	case graph.ActionImport:
		return s.importSize(n)

	case graph.ActionPreprocess, graph.ActionBuffer:
		if s.Env.DB == nil {
			return 0
		}
		inputs := n.InputStrings()
		if len(inputs) == 0 {
			return 0
		}
		return s.Env.DB.TableSize(ctx, inputs[0])

	default:
		return 0
	}
}

// importSize returns the local file size of n's source file, using the
// OSM download's file size instead when n is fed by an OSM extract stack
// (spec.md §4.6: "for OSM imports, the parent OSM file's size").
func (s *Scheduler) importSize(n *graph.Node) int64 {
	if osm := findFeedingOSMDownload(n); osm != nil {
		return fsutil.FileSize(filepath.Join(s.Env.FS.Root, osm.Output))
	}
	path, _ := n.Input.(string)
	if path == "" {
		return 0
	}
	if filepath.IsAbs(path) {
		return fsutil.FileSize(path)
	}
	return fsutil.FileSize(filepath.Join(s.Env.FS.Root, path))
}

// findFeedingOSMDownload searches n's dependencies (its children, then
// theirs) for the downloader of an OSM extract stack.
func findFeedingOSMDownload(n *graph.Node) *graph.Node {
	for _, c := range n.Children {
		if c.NodeType == graph.TypeOSMDownloader {
			return c
		}
		if found := findFeedingOSMDownload(c); found != nil {
			return found
		}
	}
	return nil
}
