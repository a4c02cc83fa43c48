package graph

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// hashHex returns the lowercase hex md5 of s, matching the teacher's
// content-hash convention in database.go (config_hash) and converter.go
// (deterministic IDs), generalized from UUIDv5 to plain md5 per spec.md §3.5.
func hashHex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SourceIdentifier computes the identifier for a source table: prefix plus
// md5(lower_trim(name)) (spec.md §3.5).
func SourceIdentifier(prefix, name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	return prefix + hashHex(normalized)
}

// sortedJSON marshals v after recursively sorting map keys, matching the
// teacher's config_hash convention (database.go computes content hashes over
// canonicalized JSON) generalized to arbitrary nested values.
func sortedJSON(v any) (string, error) {
	canon := canonicalize(v)
	b, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("canonicalize json: %w", err)
	}
	return string(b), nil
}

func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]orderedEntry, 0, len(keys))
		for _, k := range keys {
			out = append(out, orderedEntry{Key: k, Value: canonicalize(val[k])})
		}
		return orderedObject(out)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return val
	}
}

// orderedEntry preserves sorted-key order through json.Marshal, since Go maps
// would otherwise re-sort (coincidentally the same order, but this makes the
// intent explicit and stable against future key types).
type orderedEntry struct {
	Key   string
	Value any
}

func (e orderedEntry) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(e.Value)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("%q:%s", e.Key, b)), nil
}

// orderedObject writes sorted entries out as one JSON object.
type orderedObject []orderedEntry

func (o orderedObject) MarshalJSON() ([]byte, error) {
	out := []byte{'{'}
	for i, e := range o {
		b, err := e.MarshalJSON()
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, b...)
	}
	return append(out, '}'), nil
}

// ChildOutputsIdentifier computes the amalgamation/inversion identifier:
// prefix + md5(json_sorted(child_outputs)) (spec.md §3.5, §4.4 step 11).
// Outputs are sorted before hashing so that order of construction never
// affects the resulting identifier, and identical merges collapse to one
// global_urn (spec.md §4.4 step 15).
func ChildOutputsIdentifier(prefix string, childOutputs []string) (string, error) {
	sorted := append([]string(nil), childOutputs...)
	sort.Strings(sorted)
	j, err := sortedJSON(toAnySlice(sorted))
	if err != nil {
		return "", err
	}
	return prefix + hashHex(j), nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// BufferSuffix, DistanceSuffix, ClipSuffix, PostprocessSuffix compose a
// parent identifier with a stable operation suffix (spec.md §3.5).
func BufferSuffix(parentOutput string, amount string) string {
	return fmt.Sprintf("%s--buffer-%s", parentOutput, sanitizeAmount(amount))
}

func DistanceSuffix(parentOutput string, amount string) string {
	return fmt.Sprintf("%s--distance-%s", parentOutput, sanitizeAmount(amount))
}

// sanitizeAmount strips a trailing ".0" and replaces any remaining decimal
// point with a dash so the amount is safe to use verbatim as part of a
// Postgres table identifier (original_source/opensite/model/graph/opensite.py
// get_string_buffer_distance/get_suffix_buffer/get_suffix_distance).
func sanitizeAmount(amount string) string {
	amount = strings.TrimSuffix(amount, ".0")
	return strings.ReplaceAll(amount, ".", "-")
}

// ClipSuffix sorts and slugifies the area list, matching spec.md §8.4
// scenario 4: areas lowercased, sorted, joined by "--".
func ClipSuffix(parentOutput string, areas []string) string {
	slugs := make([]string, len(areas))
	for i, a := range areas {
		slugs[i] = slugify(a)
	}
	sort.Strings(slugs)
	return fmt.Sprintf("%s--clip--%s", parentOutput, strings.Join(slugs, "--"))
}

func PostprocessSuffix(parentOutput string) string {
	return parentOutput + "----postprocess"
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, " ", "-")
}
