package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/tidwall/gjson"
)

func TestLoadSeeds(t *testing.T) {
	dir := t.TempDir()
	tenantDir := filepath.Join(dir, "acme")
	if err := os.MkdirAll(tenantDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	guidelines := "templates:\n  outreach:\n    body: Hello\n"
	criteria := "dimensions:\n  - name: personalization\n    weight: 1\n"
	if err := os.WriteFile(filepath.Join(tenantDir, "guidelines.yaml"), []byte(guidelines), 0o600); err != nil {
		t.Fatalf("write guidelines: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tenantDir, "criteria.yaml"), []byte(criteria), 0o600); err != nil {
		t.Fatalf("write criteria: %v", err)
	}

	ctx := context.Background()
	store := NewMemoryStore()

	n, err := LoadSeeds(ctx, store, dir)
	if err != nil {
		t.Fatalf("load seeds: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 activations, got %d", n)
	}

	active, err := store.Active(ctx, "acme", model.KindGuidelines)
	if err != nil {
		t.Fatalf("active guidelines: %v", err)
	}
	if got := gjson.GetBytes(active.Content, "templates.outreach.body").String(); got != "Hello" {
		t.Fatalf("unexpected seeded body %q", got)
	}

	n, err = LoadSeeds(ctx, store, dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected seeds to be skipped when active versions exist, got %d", n)
	}
}
