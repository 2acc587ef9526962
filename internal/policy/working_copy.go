package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// WorkingCopy is an in-run Guidelines view: the active document plus an ordered list of edits.
// It is a value; Apply returns a new copy and never mutates the receiver.
type WorkingCopy struct {
	base     model.Document
	parentID string
	version  int
	edits    []model.Edit
}

// NewWorkingCopy starts a working copy from a stored version.
func NewWorkingCopy(v *model.PolicyVersion) WorkingCopy {
	return WorkingCopy{
		base:     append(model.Document(nil), v.Content...),
		parentID: v.ID,
		version:  v.Number,
	}
}

// ParentID is the stored version the copy derives from.
func (w WorkingCopy) ParentID() string { return w.parentID }

// Version is the number of the stored version the copy derives from.
func (w WorkingCopy) Version() int { return w.version }

// Edits returns the applied edits in order.
func (w WorkingCopy) Edits() []model.Edit { return slices.Clone(w.edits) }

// Dirty reports whether any edit has been applied.
func (w WorkingCopy) Dirty() bool { return len(w.edits) > 0 }

// Apply validates each edit against the current document and returns a copy holding the valid ones.
// Invalid edits are reported in the joined error and left out.
func (w WorkingCopy) Apply(edits ...model.Edit) (WorkingCopy, error) {
	doc, err := w.Document()
	if err != nil {
		return w, err
	}

	next := w
	next.edits = slices.Clip(slices.Clone(w.edits))

	var errs []error
	for _, e := range edits {
		e.Path = NormalizePath(e.Path)
		updated, err := ApplyEdit(doc, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc = updated
		next.edits = append(next.edits, e)
	}
	return next, errors.Join(errs...)
}

// Document materialises the base document with all edits applied.
func (w WorkingCopy) Document() (model.Document, error) {
	doc := append(model.Document(nil), w.base...)
	for _, e := range w.edits {
		var err error
		if doc, err = ApplyEdit(doc, e); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// ApplyEdit applies a single edit to doc.
func ApplyEdit(doc model.Document, e model.Edit) (model.Document, error) {
	path := NormalizePath(e.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: edit path is empty", model.ErrValidation)
	}
	current := gjson.GetBytes(doc, path)

	switch e.Op {
	case model.EditAdd:
		if err := requireValue(e); err != nil {
			return nil, err
		}
		if current.IsArray() {
			path += ".-1"
		}
		return sjson.SetRawBytes(doc, path, e.Value)
	case model.EditModify:
		if !current.Exists() {
			return nil, fmt.Errorf("%w: modify %s: path does not exist", model.ErrValidation, path)
		}
		if err := requireValue(e); err != nil {
			return nil, err
		}
		return sjson.SetRawBytes(doc, path, e.Value)
	case model.EditReplace:
		if err := requireValue(e); err != nil {
			return nil, err
		}
		return sjson.SetRawBytes(doc, path, e.Value)
	case model.EditRemove:
		if !current.Exists() {
			return nil, fmt.Errorf("%w: remove %s: path does not exist", model.ErrValidation, path)
		}
		return sjson.DeleteBytes(doc, path)
	default:
		return nil, fmt.Errorf("%w: unknown edit op %q", model.ErrValidation, e.Op)
	}
}

func requireValue(e model.Edit) error {
	if len(e.Value) == 0 || !gjson.ValidBytes(e.Value) {
		return fmt.Errorf("%w: %s %s: value is not valid JSON", model.ErrValidation, e.Op, e.Path)
	}
	return nil
}

// NormalizePath accepts dotted paths, "$."-prefixed paths and JSON pointers.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	if strings.HasPrefix(path, "/") {
		path = strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", ".")
	}
	return strings.Trim(path, ".")
}

// Section returns the top-level key an edit path targets.
func Section(path string) string {
	path = NormalizePath(path)
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// Structural reports whether an edit targets workflows or decision trees.
func Structural(e model.Edit) bool {
	switch Section(e.Path) {
	case model.SectionWorkflows, model.SectionDecisionTrees:
		return true
	}
	return false
}
