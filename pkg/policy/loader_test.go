package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	path := filepath.Join(t.TempDir(), "owner.rego")
	writeFile(t, path, ownerPolicy)

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "owner" {
		t.Errorf("Expected name 'owner', got '%s'", policy.Name)
	}
	if policy.Rego != ownerPolicy {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	data, err := json.Marshal(Policy{
		Name:        "json-policy",
		Description: "from json",
		Rego:        ownerPolicy,
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	path := filepath.Join(t.TempDir(), "policy.json")
	writeFile(t, path, string(data))

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "json-policy" {
		t.Errorf("Expected name 'json-policy', got '%s'", policy.Name)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
	if policy.CreatedAt.IsZero() {
		t.Error("CreatedAt should default to now")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "unsupported type", file: "policy.txt", content: "package x"},
		{name: "invalid json", file: "bad.json", content: "{not json"},
		{name: "json without name", file: "anon.json", content: `{"rego": "package x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.rego"), ownerPolicy)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), ownerPolicy)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.loadFromDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_NonExistent(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestLoadBundle(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	bundle := PolicyBundle{
		Name:    "site",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "owner", Rego: ownerPolicy, Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bundle.json")
	writeFile(t, path, string(data))

	loaded, err := loader.LoadBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if loaded.Name != "site" || len(loaded.Policies) != 1 {
		t.Errorf("Unexpected bundle: %+v", loaded)
	}
}

func TestLoadFromPaths_Bundle(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	bundle := PolicyBundle{
		Name: "site",
		Policies: []Policy{
			{Name: "owner", Rego: ownerPolicy, Enabled: true},
			{Name: "quiet", Rego: "package q\n\ndeny contains msg if { false; msg := \"\" }", Enabled: true},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "site.bundle.json"), string(data))

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies from bundle, got %d", len(policies))
	}
	for _, p := range policies {
		if p.Severity != SeverityError || p.Metadata["bundle"] != "site" {
			t.Errorf("Unexpected bundle policy: %+v", p)
		}
	}
	if len(loader.cache) != 0 {
		t.Errorf("Expected bundles to bypass the cache, got %d entries", len(loader.cache))
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "single comment",
			content:  "# Deny privileged chutes\npackage x",
			expected: "Deny privileged chutes",
		},
		{
			name:     "multi-line comment",
			content:  "# Deny privileged\n# chutes everywhere\npackage x",
			expected: "Deny privileged chutes everywhere",
		},
		{
			name:     "no comment",
			content:  "package x\n\ndeny contains msg if { false }",
			expected: "",
		},
		{
			name:     "stops at first code line",
			content:  "# Header\npackage x\n# trailing",
			expected: "Header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	path := filepath.Join(t.TempDir(), "owner.rego")
	writeFile(t, path, ownerPolicy)

	if _, err := loader.loadFromFile(context.Background(), path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("Expected 1 cached policy, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected empty cache, got %d", len(loader.cache))
	}
}

func TestEngineWatch_ReloadsOnChange(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "owner.rego"), ownerPolicy)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy("owner"); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Policy was not reloaded after file creation")
}
