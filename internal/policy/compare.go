package policy

import (
	"slices"
	"strconv"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/tidwall/gjson"
)

// ChangeKind classifies a leaf difference between two documents.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
)

// Change is one leaf-level difference.
type Change struct {
	Path   string     `json:"path"`
	Kind   ChangeKind `json:"kind"`
	Before string     `json:"before,omitempty"`
	After  string     `json:"after,omitempty"`
}

// Compare lists leaf differences from a to b, sorted by path.
func Compare(a, b model.Document) []Change {
	before := flatten(a)
	after := flatten(b)

	var changes []Change
	for path, old := range before {
		cur, ok := after[path]
		switch {
		case !ok:
			changes = append(changes, Change{Path: path, Kind: ChangeRemoved, Before: old})
		case cur != old:
			changes = append(changes, Change{Path: path, Kind: ChangeUpdated, Before: old, After: cur})
		}
	}
	for path, cur := range after {
		if _, ok := before[path]; !ok {
			changes = append(changes, Change{Path: path, Kind: ChangeAdded, After: cur})
		}
	}

	slices.SortFunc(changes, func(x, y Change) int { return strings.Compare(x.Path, y.Path) })
	return changes
}

func flatten(doc model.Document) map[string]string {
	out := make(map[string]string)
	var walk func(prefix string, r gjson.Result)
	walk = func(prefix string, r gjson.Result) {
		if !r.IsObject() && !r.IsArray() {
			out[prefix] = r.Raw
			return
		}
		empty := true
		i := 0
		r.ForEach(func(key, value gjson.Result) bool {
			empty = false
			k := key.String()
			if r.IsArray() {
				k = strconv.Itoa(i)
				i++
			}
			if prefix != "" {
				k = prefix + "." + k
			}
			walk(k, value)
			return true
		})
		if empty && prefix != "" {
			out[prefix] = r.Raw
		}
	}
	walk("", gjson.ParseBytes(doc))
	return out
}
