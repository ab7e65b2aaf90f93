package drift

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// maskedPaths are stripped from both sides before comparison.
var maskedPaths = [][]string{
	{"metadata", "resourceVersion"},
	{"metadata", "uid"},
	{"metadata", "generation"},
	{"metadata", "creationTimestamp"},
	{"metadata", "managedFields"},
	{"metadata", "selfLink"},
	{"metadata", "annotations", "kubectl.kubernetes.io/last-applied-configuration"},
	{"metadata", "annotations", "deployment.kubernetes.io/revision"},
	{"status"},
}

// mask returns a deep copy of doc with the masking policy's paths removed.
func mask(doc map[string]interface{}) map[string]interface{} {
	out := deepCopyMap(doc)
	for _, path := range maskedPaths {
		deleteAt(out, path)
	}
	return out
}

func deleteAt(m map[string]interface{}, path []string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	child, ok := m[path[0]].(map[string]interface{})
	if !ok {
		return
	}
	deleteAt(child, path[1:])
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// structuralDiff recursively compares old and new, returning one Change per
// differing path. Maps compare key-wise, sequences
// position-wise, scalars by equality with numeric/string coercion only when
// both sides parse to the same value. An empty mapping/sequence is treated
// as equal to an absent key at the same path.
func structuralDiff(path string, old, new interface{}) []Change {
	old = normalizeEmpty(old)
	new = normalizeEmpty(new)

	if old == nil && new == nil {
		return nil
	}
	if old == nil || new == nil {
		return []Change{{Path: orRoot(path), Old: old, New: new}}
	}

	oldMap, oldIsMap := old.(map[string]interface{})
	newMap, newIsMap := new.(map[string]interface{})
	if oldIsMap && newIsMap {
		return diffMaps(path, oldMap, newMap)
	}

	oldSlice, oldIsSlice := old.([]interface{})
	newSlice, newIsSlice := new.([]interface{})
	if oldIsSlice && newIsSlice {
		return diffSlices(path, oldSlice, newSlice)
	}

	if scalarsEqual(old, new) {
		return nil
	}
	return []Change{{Path: orRoot(path), Old: old, New: new}}
}

func diffMaps(path string, old, new map[string]interface{}) []Change {
	keys := map[string]bool{}
	for k := range old {
		keys[k] = true
	}
	for k := range new {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []Change
	for _, k := range sorted {
		changes = append(changes, structuralDiff(childPath(path, k), old[k], new[k])...)
	}
	return changes
}

func diffSlices(path string, old, new []interface{}) []Change {
	var changes []Change
	max := len(old)
	if len(new) > max {
		max = len(new)
	}
	for i := 0; i < max; i++ {
		var o, n interface{}
		if i < len(old) {
			o = old[i]
		}
		if i < len(new) {
			n = new[i]
		}
		changes = append(changes, structuralDiff(fmt.Sprintf("%s[%d]", path, i), o, n)...)
	}
	return changes
}

// normalizeEmpty implements the empty-to-absent equivalence: an empty
// mapping/sequence collapses to nil, the same representation as an absent
// key.
func normalizeEmpty(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return nil
		}
		return t
	case []interface{}:
		if len(t) == 0 {
			return nil
		}
		return t
	default:
		return v
	}
}

// scalarsEqual compares two scalars, allowing numeric/string coercion only
// when both sides parse to the same value (e.g. stored "3" vs live int 3).
func scalarsEqual(old, new interface{}) bool {
	if reflect.DeepEqual(old, new) {
		return true
	}
	oldNum, oldIsNum := toFloat(old)
	newNum, newIsNum := toFloat(new)
	if oldIsNum && newIsNum {
		return oldNum == newNum
	}
	return fmt.Sprintf("%v", old) == fmt.Sprintf("%v", new) && sameKindLoosely(old, new)
}

func sameKindLoosely(old, new interface{}) bool {
	_, oldIsBool := old.(bool)
	_, newIsBool := new.(bool)
	return oldIsBool == newIsBool
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

// SplitDocuments splits a multi-document YAML manifest into its individual
// documents, discarding empty ones.
func SplitDocuments(manifest string) []string {
	lines := strings.Split(manifest, "\n")
	var docs []string
	var cur []string
	flush := func() {
		doc := strings.TrimSpace(strings.Join(cur, "\n"))
		if doc != "" {
			docs = append(docs, doc)
		}
		cur = nil
	}
	for _, line := range lines {
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return docs
}
