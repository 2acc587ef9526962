package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spigell/recruiter-loop/internal/model"

	"gopkg.in/yaml.v3"
)

// SeedActor authors versions created from seed files.
var SeedActor = model.Author{Kind: model.AuthorHuman, ID: "seed", Via: "seed-files"}

// ReadDocument loads a YAML or JSON file into a JSON document.
func ReadDocument(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: %s is empty", model.ErrValidation, path)
	}

	doc, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("convert %s to json: %w", path, err)
	}
	return doc, nil
}

// LoadSeeds activates dir/<tenant>/{guidelines,criteria}.yaml for every tenant that has no active version yet.
// It returns the number of versions activated.
func LoadSeeds(ctx context.Context, store Store, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read seed dir: %w", err)
	}

	activated := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		tenant := entry.Name()
		for _, kind := range []model.PolicyKind{model.KindGuidelines, model.KindCriteria} {
			path := filepath.Join(dir, tenant, string(kind)+".yaml")
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				continue
			}

			if _, err := store.Active(ctx, tenant, kind); err == nil {
				continue
			} else if !errors.Is(err, model.ErrNotFound) {
				return activated, err
			}

			doc, err := ReadDocument(path)
			if err != nil {
				return activated, err
			}
			draft, err := store.CreateDraft(ctx, Draft{TenantID: tenant, Kind: kind, Content: doc, Author: SeedActor})
			if err != nil {
				return activated, fmt.Errorf("seed %s for %s: %w", kind, tenant, err)
			}
			if _, err := store.Activate(ctx, draft.ID, SeedActor); err != nil {
				return activated, fmt.Errorf("activate seed %s for %s: %w", kind, tenant, err)
			}
			activated++
		}
	}
	return activated, nil
}
