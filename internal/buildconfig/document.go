package buildconfig

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mumuon/geobuild/internal/graph"
)

// Document is a parsed configuration document (spec.md §6.1). Merged holds
// the fully-resolved mapping (defaults+overrides+body, key-sorted when
// hashed) used both to build the branch subtree and to compute the hash.
type Document struct {
	Code          string
	Title         string
	CKAN          string
	OSM           string
	OutputFormats []string
	Snapgrid      float64
	Clip          []string
	Structure     map[string]any
	Style         map[string]any
	Buffers       map[string]string
	Distances     map[string]string
	MathVars      map[string]float64

	Merged map[string]any
	Hash   string
}

// Load fetches ref (a local path or a URL) and parses it as YAML, resolving
// to a mapping (spec.md §4.2 step 1).
func Load(ref string) (map[string]any, error) {
	var raw []byte
	var err error
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		raw, err = fetchURL(ref)
	} else {
		raw, err = os.ReadFile(ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load config document %s: %w", ref, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config document %s: %w", ref, err)
	}
	return doc, nil
}

func fetchURL(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// Loader tracks codes already registered in the current run, rejecting
// duplicates as a fatal ConfigError (spec.md §4.2 step 2).
type Loader struct {
	seenCodes map[string]bool
}

func NewLoader() *Loader {
	return &Loader{seenCodes: make(map[string]bool)}
}

// BuildDocument merges defaults, overrides, and the raw body into one
// Document, rejecting a duplicate code (spec.md §4.2 steps 2-4).
func (l *Loader) BuildDocument(body, defaults, overrides map[string]any) (*Document, error) {
	code, _ := body["code"].(string)
	if code == "" {
		return nil, fmt.Errorf("config document missing required 'code' field")
	}
	if l.seenCodes[code] {
		return nil, fmt.Errorf("duplicate code %q across configuration documents", code)
	}

	merged := deepMerge(deepMerge(cloneMap(defaults), body), overrides)
	hash, err := graph.ChildOutputsIdentifier("", []string{mustSortedJSON(merged)})
	if err != nil {
		return nil, fmt.Errorf("hash configuration document %q: %w", code, err)
	}

	doc := &Document{
		Code:          code,
		Title:         stringField(merged, "title"),
		CKAN:          stringField(merged, "ckan"),
		OSM:           stringField(merged, "osm"),
		OutputFormats: stringSliceField(merged, "outputformats"),
		Snapgrid:      floatField(merged, "snapgrid"),
		Clip:          stringSliceField(merged, "clip"),
		Structure:     mapField(merged, "structure"),
		Style:         mapField(merged, "style"),
		Buffers:       stringMapField(merged, "buffers"),
		Distances:     stringMapField(merged, "distances"),
		MathVars:      numericTopLevelFields(merged),
		Merged:        merged,
		Hash:          hash,
	}

	l.seenCodes[code] = true
	return doc, nil
}

// mustSortedJSON is used only to feed the hash. It serializes v with
// yaml.Marshal, which writes map keys in sorted order, so equal documents
// give equal text; that text is hashed through ChildOutputsIdentifier as a
// single-element slice. A marshal error yields the empty string.
func mustSortedJSON(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// deepMerge overlays patch onto base: missing scalars are filled from base,
// patch always wins on conflicts (spec.md §4.2 step 3 "defaults...missing
// scalars", "overrides...unconditional replacement"). Nested maps merge
// recursively; any other type is replaced wholesale.
func deepMerge(base, patch map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	out := cloneMap(base)
	for k, pv := range patch {
		if bv, ok := out[k]; ok {
			bm, bok := bv.(map[string]any)
			pm, pok := pv.(map[string]any)
			if bok && pok {
				out[k] = deepMerge(bm, pm)
				continue
			}
		}
		out[k] = pv
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func stringMapField(m map[string]any, key string) map[string]string {
	raw, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = fmt.Sprintf("%g", val)
		case int:
			out[k] = fmt.Sprintf("%d", val)
		}
	}
	return out
}

// numericTopLevelFields collects every top-level scalar that parses as a
// number, forming the branch's math-variable context for resolve_math
// (spec.md §6.1 "any declared math variables at top level").
func numericTopLevelFields(m map[string]any) map[string]float64 {
	out := make(map[string]float64)
	for k, v := range m {
		switch val := v.(type) {
		case float64:
			out[k] = val
		case int:
			out[k] = float64(val)
		}
	}
	return out
}
