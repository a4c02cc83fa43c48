package operator

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// Fetcher resolves a URL by its declared protocol and writes the payload to
// destPath (spec.md §4.7 Fetch, §1 "concrete downloaders... adapters behind
// one Fetch capability"). The default adapter below handles the plain-HTTP
// case; paginated feature-service and bulk feature-spec protocols are
// left as extension points on the same interface (see DESIGN.md).
type Fetcher interface {
	FetchTo(ctx context.Context, url, destPath string) error
	// Size returns the remote size in bytes and whether it could be
	// determined (spec.md §4.6: "downloads: remote size... tolerate
	// unknown, treated as 0").
	Size(ctx context.Context, url string) (int64, bool)
}

// HTTPFetcher is the concrete default Fetcher: a plain GET streamed to a
// tmp-shadow file, renamed atomically, mirroring the teacher's download
// conventions in tiles.go/s3.go (bounded transport, explicit timeouts).
type HTTPFetcher struct {
	Client *http.Client
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 60 * time.Second}}
}

func (f *HTTPFetcher) FetchTo(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build fetch request for %q: %w", url, err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return &errs.NetworkError{Op: "fetch " + url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &errs.NetworkError{Op: "fetch " + url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	return fsutil.WriteAtomic(destPath, func(w io.Writer) error {
		_, err := io.Copy(w, resp.Body)
		return err
	})
}

func (f *HTTPFetcher) Size(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.ContentLength <= 0 {
		return 0, false
	}
	return resp.ContentLength, true
}

// fetchBackoff is the retry schedule for transient errors (spec.md §4.7
// "retries on transient errors with exponential backoff").
var fetchBackoff = []time.Duration{500 * time.Millisecond, 2 * time.Second, 8 * time.Second}

// Fetch implements the download action (spec.md §4.7). Idempotent: if the
// target file already exists and C8 shows the same (input,output) pair
// exported, the fetch is skipped.
func Fetch(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	url, _ := n.Input.(string)
	if url == "" {
		return fmt.Errorf("download node %q has no source url", n.Name)
	}
	destPath := filepath.Join(env.FS.Root, n.Output)

	if env.OutputLog != nil {
		if done, err := env.OutputLog.CheckExists(ctx, url, n.Output); err == nil && done {
			if fsutil.FileSize(destPath) > 0 {
				env.logger(n).Debug("fetch already satisfied", "path", destPath)
				return nil
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= len(fetchBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &errs.CancelledError{Node: n.Name}
			case <-time.After(fetchBackoff[attempt-1]):
			}
		}
		if err := env.Fetcher.FetchTo(ctx, url, destPath); err != nil {
			lastErr = err
			env.logger(n).Warn("fetch attempt failed", "attempt", attempt, "error", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("fetch %q: %w", url, lastErr)
	}

	if err := validateFetchedFile(destPath); err != nil {
		return err
	}

	if env.OutputLog != nil {
		if err := env.OutputLog.Update(ctx, url, n.Output); err != nil {
			return err
		}
	}
	return nil
}

// validateFetchedFile applies spec.md §4.7's "byte-size sanity; for
// container files, a structural sanity check".
func validateFetchedFile(path string) error {
	if fsutil.FileSize(path) == 0 {
		return &errs.DataError{Detail: "fetched file is empty", Err: fmt.Errorf("%s", path)}
	}
	if strings.HasSuffix(strings.ToLower(path), ".zip") {
		r, err := zip.OpenReader(path)
		if err != nil {
			return &errs.DataError{Detail: "fetched zip is not a valid archive", Err: err}
		}
		r.Close()
	}
	return nil
}
