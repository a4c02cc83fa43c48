// Package catalog implements the Metadata Binder (C3): the narrow Catalog
// capability interface, one concrete HTTP-JSON adapter grounded in the
// teacher's tuned http.Client (s3.go), and the walk-and-annotate binder.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Resource is one candidate download for a dataset (spec.md §6.2).
type Resource struct {
	Format string
	URL    string
}

// Extra is a catalog extra field, e.g. "FILTER:highway=primary;secondary" or
// "preprocess=closed_lines_to_polygons" (spec.md §4.3).
type Extra struct {
	Key   string
	Value string
}

// Dataset is one entry of a catalog group (spec.md §6.2).
type Dataset struct {
	PackageName string
	Title       string
	URL         string
	Resources   []Resource
	Extras      []Extra
}

// Group is one top-level entry of a Catalog.Query response.
type Group struct {
	GroupTitle string
	Datasets   []Dataset
}

// Catalog is the out-of-scope repository-discovery collaborator, referenced
// only through this interface per spec.md §1.
type Catalog interface {
	Query(ctx context.Context, formats []string) (map[string]Group, error)
}

// HTTPCatalog is the concrete default adapter: a single JSON endpoint
// returning the Query response shape. Transport tuning mirrors the
// teacher's s3.go custom http.Transport (bounded idle conns, explicit
// timeouts) rather than the bare http.DefaultClient.
type HTTPCatalog struct {
	Endpoint string
	client   *http.Client
}

func NewHTTPCatalog(endpoint string) *HTTPCatalog {
	return &HTTPCatalog{
		Endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *HTTPCatalog) Query(ctx context.Context, formats []string) (map[string]Group, error) {
	url := c.Endpoint
	if len(formats) > 0 {
		url = fmt.Sprintf("%s?formats=%s", c.Endpoint, strings.Join(formats, ","))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query catalog %s: %w", c.Endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog %s returned status %d", c.Endpoint, resp.StatusCode)
	}

	var out map[string]Group
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	return out, nil
}

// SelectPriorityResource picks the resource whose format has the smallest
// index in priority; ties (including "no index found for any candidate")
// break by encounter order, and if none match the priority list the first
// candidate wins (spec.md §4.3). Stable under the addition of a
// lower-priority candidate (spec.md §8.2).
func SelectPriorityResource(resources []Resource, priority []string) (Resource, bool) {
	if len(resources) == 0 {
		return Resource{}, false
	}

	rank := make(map[string]int, len(priority))
	for i, f := range priority {
		rank[f] = i
	}

	best := resources[0]
	bestRank, bestFound := rank[best.Format]
	for _, r := range resources[1:] {
		rRank, rFound := rank[r.Format]
		switch {
		case rFound && !bestFound:
			best, bestRank, bestFound = r, rRank, rFound
		case rFound && bestFound && rRank < bestRank:
			best, bestRank, bestFound = r, rRank, rFound
		}
	}
	return best, true
}
