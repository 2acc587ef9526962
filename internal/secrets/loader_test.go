package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	emptyFile := filepath.Join(dir, "empty")
	if err := os.WriteFile(emptyFile, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	t.Setenv("RECRUITER_TEST_SECRET", " from-env ")

	tests := []struct {
		name    string
		src     Source
		expect  string
		wantErr string
	}{
		{name: "file wins", src: Source{File: keyFile, Env: "RECRUITER_TEST_SECRET", Value: "inline"}, expect: "from-file"},
		{name: "env before value", src: Source{Env: "RECRUITER_TEST_SECRET", Value: "inline"}, expect: "from-env"},
		{name: "unset env falls back to value", src: Source{Env: "RECRUITER_TEST_MISSING", Value: " inline "}, expect: "inline"},
		{name: "empty file", src: Source{Name: "slack token", File: emptyFile}, wantErr: "slack token from file"},
		{name: "nothing configured", src: Source{Name: "api key"}, wantErr: "api key is not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	got, err := Optional(Source{Name: "token"})
	if err != nil || got != "" {
		t.Fatalf("expected empty secret without error, got %q, %v", got, err)
	}
}
