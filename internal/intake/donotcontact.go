package intake

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DoNotContact is the list of candidates that must never be approached.
type DoNotContact struct {
	Items []*DoNotContactEntry `yaml:"items" json:"items"`
}

type DoNotContactEntry struct {
	CandidateID string    `yaml:"candidate_id" json:"candidate_id"`
	Reason      string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	AddedAt     time.Time `yaml:"added_at" json:"added_at"`
}

// ReadDoNotContact reads a YAML or JSON list. A missing or empty file is an empty list.
func ReadDoNotContact(path string) (*DoNotContact, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &DoNotContact{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list DoNotContact
	if len(data) == 0 {
		return &list, nil
	}
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Add appends candidates that are not listed yet.
func (l *DoNotContact) Add(reason string, candidateIDs ...string) {
	known := make(map[string]bool, len(l.Items))
	for _, item := range l.Items {
		known[item.CandidateID] = true
	}
	for _, id := range candidateIDs {
		if id == "" || known[id] {
			continue
		}
		known[id] = true
		l.Items = append(l.Items, &DoNotContactEntry{CandidateID: id, Reason: reason, AddedAt: time.Now().UTC()})
	}
}

func (l *DoNotContact) CandidateIDs() []string {
	ids := make([]string, 0, len(l.Items))
	for _, item := range l.Items {
		ids = append(ids, item.CandidateID)
	}
	return ids
}

func (l *DoNotContact) ToFile(path string) error {
	data, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
