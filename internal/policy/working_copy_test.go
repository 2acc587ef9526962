package policy

import (
	"encoding/json"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/tidwall/gjson"
)

const baseGuidelines = `{"templates":{"outreach":{"body":"Hi {{name}}","tone":"formal"}},"workflows":[{"name":"initial"}],"constraints":{"max_length":600}}`

func TestWorkingCopyApplyIsValueSemantics(t *testing.T) {
	wc := NewWorkingCopy(&model.PolicyVersion{ID: "v1", Number: 3, Content: model.Document(baseGuidelines)})

	next, err := wc.Apply(
		model.Edit{Path: "templates.outreach.tone", Op: model.EditModify, Value: json.RawMessage(`"warm"`)},
		model.Edit{Path: "$.workflows", Op: model.EditAdd, Value: json.RawMessage(`{"name":"follow_up"}`)},
		model.Edit{Path: "/constraints/max_length", Op: model.EditRemove},
	)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if wc.Dirty() {
		t.Fatalf("original working copy must stay untouched")
	}
	if len(next.Edits()) != 3 {
		t.Fatalf("expected 3 edits, got %d", len(next.Edits()))
	}
	if next.Version() != 3 || next.ParentID() != "v1" {
		t.Fatalf("unexpected lineage: %d %s", next.Version(), next.ParentID())
	}

	doc, err := next.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if got := gjson.GetBytes(doc, "templates.outreach.tone").String(); got != "warm" {
		t.Fatalf("expected tone warm, got %q", got)
	}
	if got := gjson.GetBytes(doc, "workflows.#").Int(); got != 2 {
		t.Fatalf("expected 2 workflows, got %d", got)
	}
	if gjson.GetBytes(doc, "constraints.max_length").Exists() {
		t.Fatalf("expected max_length removed")
	}

	base, err := wc.Document()
	if err != nil {
		t.Fatalf("base document: %v", err)
	}
	if string(base) != baseGuidelines {
		t.Fatalf("base document changed: %s", base)
	}
}

func TestWorkingCopySkipsInvalidEdits(t *testing.T) {
	wc := NewWorkingCopy(&model.PolicyVersion{ID: "v1", Number: 1, Content: model.Document(baseGuidelines)})

	next, err := wc.Apply(
		model.Edit{Path: "templates.missing", Op: model.EditModify, Value: json.RawMessage(`"x"`)},
		model.Edit{Path: "templates.outreach.body", Op: model.EditModify, Value: json.RawMessage(`not json`)},
		model.Edit{Path: "templates.closing", Op: model.EditAdd, Value: json.RawMessage(`{"body":"Thanks"}`)},
	)
	if err == nil {
		t.Fatalf("expected error for invalid edits")
	}
	if len(next.Edits()) != 1 {
		t.Fatalf("expected only the valid edit to be kept, got %d", len(next.Edits()))
	}
}

func TestStructural(t *testing.T) {
	tests := []struct {
		path   string
		expect bool
	}{
		{path: "workflows.0.steps", expect: true},
		{path: "$.decision_trees", expect: true},
		{path: "/templates/outreach", expect: false},
		{path: "constraints.tone", expect: false},
	}

	for _, tt := range tests {
		if got := Structural(model.Edit{Path: tt.path}); got != tt.expect {
			t.Fatalf("%s: expected %v, got %v", tt.path, tt.expect, got)
		}
	}
}

func TestCompare(t *testing.T) {
	a := model.Document(`{"templates":{"outreach":"hi"},"constraints":{"max":5},"workflows":["a"]}`)
	b := model.Document(`{"templates":{"outreach":"hello"},"workflows":["a","b"],"tone":"warm"}`)

	changes := Compare(a, b)

	expect := []Change{
		{Path: "constraints.max", Kind: ChangeRemoved, Before: "5"},
		{Path: "templates.outreach", Kind: ChangeUpdated, Before: `"hi"`, After: `"hello"`},
		{Path: "tone", Kind: ChangeAdded, After: `"warm"`},
		{Path: "workflows.1", Kind: ChangeAdded, After: `"b"`},
	}
	if len(changes) != len(expect) {
		t.Fatalf("expected %d changes, got %+v", len(expect), changes)
	}
	for i := range expect {
		if changes[i] != expect[i] {
			t.Fatalf("change %d: expected %+v, got %+v", i, expect[i], changes[i])
		}
	}
}
