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

func newTestLoader() *Loader {
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func writeRule(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFromPaths_RegoFile(t *testing.T) {
	loader := newTestLoader()

	rulePath := filepath.Join(t.TempDir(), "no-lis-driver.rego")
	regoSrc := `# Forbid lis-driver installs on frozen targets

package capstan.rules

import rego.v1

deny contains msg if {
	input.install.capability == "lis-driver"
	msg := "lis-driver installs are forbidden"
}`
	writeRule(t, rulePath, regoSrc)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{rulePath})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(loaded))
	}

	p := loaded[0]
	if p.Name != "no-lis-driver" {
		t.Errorf("name = %q, want no-lis-driver", p.Name)
	}
	if p.Description != "Forbid lis-driver installs on frozen targets" {
		t.Errorf("description = %q", p.Description)
	}
	if p.Rego != regoSrc {
		t.Error("rego source does not round-trip")
	}
	if !p.Enabled {
		t.Error("rule should be enabled by default")
	}
	if p.Severity != SeverityError {
		t.Errorf("severity = %s, want %s", p.Severity, SeverityError)
	}
	if p.Metadata["source"] != rulePath {
		t.Errorf("metadata source = %v, want %s", p.Metadata["source"], rulePath)
	}
}

func TestLoadFromPaths_JSONDefinition(t *testing.T) {
	loader := newTestLoader()

	want := Policy{
		Name:        "working-hours",
		Description: "Deny installs outside the change window",
		Rego:        "package capstan.rules\ndeny[msg] { false }",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"change-control"},
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rulePath := filepath.Join(t.TempDir(), "working-hours.json")
	writeRule(t, rulePath, string(data))

	loaded, err := loader.LoadFromPaths(context.Background(), []string{rulePath})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(loaded))
	}

	p := loaded[0]
	if p.Name != want.Name || p.Description != want.Description || p.Severity != want.Severity {
		t.Errorf("loaded %+v does not match definition", p)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("timestamps should be defaulted when absent")
	}
}

func TestLoadFromPaths_JSONDefaultSeverity(t *testing.T) {
	loader := newTestLoader()

	rulePath := filepath.Join(t.TempDir(), "bare.json")
	writeRule(t, rulePath, `{"name":"bare","rego":"package p\ndeny[msg] { false }","enabled":true}`)

	loaded, err := loader.LoadFromPaths(context.Background(), []string{rulePath})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if loaded[0].Severity != SeverityError {
		t.Errorf("severity = %s, want default %s", loaded[0].Severity, SeverityError)
	}
}

func TestLoadFromPaths_DirectoryTree(t *testing.T) {
	loader := newTestLoader()

	root := t.TempDir()
	nested := filepath.Join(root, "frozen")
	if err := os.Mkdir(nested, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	writeRule(t, filepath.Join(root, "one.rego"), "package p1\ndeny[msg] { false }")
	writeRule(t, filepath.Join(nested, "two.rego"), "package p2\ndeny[msg] { false }")
	writeRule(t, filepath.Join(root, "README.md"), "# not a rule")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 policies from the tree, got %d", len(loaded))
	}
}

func TestLoadFromPaths_FileAndDirectoryMix(t *testing.T) {
	loader := newTestLoader()

	root := t.TempDir()
	dir := filepath.Join(root, "rules")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeRule(t, filepath.Join(dir, "one.rego"), "package p1\ndeny[msg] { false }")

	single := filepath.Join(root, "two.rego")
	writeRule(t, single, "package p2\ndeny[msg] { false }")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadFromPaths_BadFileInDirectorySkipped(t *testing.T) {
	loader := newTestLoader()

	dir := t.TempDir()
	writeRule(t, filepath.Join(dir, "good.rego"), "package p\ndeny[msg] { false }")
	writeRule(t, filepath.Join(dir, "broken.json"), "not json at all")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("a broken file inside a directory should not fail the load: %v", err)
	}
	if len(loaded) != 1 {
		t.Errorf("expected the good rule only, got %d policies", len(loaded))
	}
}

func TestLoadFromPaths_BadFileNamedDirectlyFails(t *testing.T) {
	loader := newTestLoader()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "invalid json", file: "broken.json", content: "not json"},
		{name: "unsupported extension", file: "notes.txt", content: "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeRule(t, path, tt.content)

			if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
				t.Error("expected an error for an explicitly named bad file")
			}
		})
	}
}

func TestLoadFromPaths_NonExistent(t *testing.T) {
	loader := newTestLoader()

	_, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/rules"})
	if err == nil {
		t.Error("expected an error for a missing path")
	}
}

func TestLoadFile_CacheInvalidatedOnEdit(t *testing.T) {
	loader := newTestLoader()

	rulePath := filepath.Join(t.TempDir(), "evolving.rego")
	writeRule(t, rulePath, "# first version\npackage p\ndeny[msg] { false }")

	first, err := loader.loadFile(rulePath)
	if err != nil {
		t.Fatalf("loadFile: %v", err)
	}
	if first.Description != "first version" {
		t.Fatalf("description = %q", first.Description)
	}

	again, err := loader.loadFile(rulePath)
	if err != nil {
		t.Fatalf("loadFile: %v", err)
	}
	if again != first {
		t.Error("unchanged file should be served from the cache")
	}

	// Push the modification time forward so the rewrite is visible even
	// on filesystems with coarse timestamps.
	writeRule(t, rulePath, "# second version\npackage p\ndeny[msg] { false }")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(rulePath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	updated, err := loader.loadFile(rulePath)
	if err != nil {
		t.Fatalf("loadFile: %v", err)
	}
	if updated.Description != "second version" {
		t.Errorf("edited file not re-parsed, description = %q", updated.Description)
	}
}

func TestClearCache(t *testing.T) {
	loader := newTestLoader()

	rulePath := filepath.Join(t.TempDir(), "cached.rego")
	writeRule(t, rulePath, "package p\ndeny[msg] { false }")

	if _, err := loader.loadFile(rulePath); err != nil {
		t.Fatalf("loadFile: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Fatalf("expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("expected empty cache after clear, got %d entries", len(loader.cache))
	}
}

func TestHeaderComment(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "single line",
			src:  "# Forbid risky installs\npackage p",
			want: "Forbid risky installs",
		},
		{
			name: "multi line block",
			src:  "# Forbid risky installs\n# on frozen targets\npackage p",
			want: "Forbid risky installs on frozen targets",
		},
		{
			name: "blank comment lines dropped",
			src:  "# First\n#\n# Second\npackage p",
			want: "First Second",
		},
		{
			name: "leading blank lines before the block",
			src:  "\n\n# Late header\npackage p",
			want: "Late header",
		},
		{
			name: "no header",
			src:  "package p\ndeny[msg] { false }",
			want: "",
		},
		{
			name: "comment after code is not a header",
			src:  "package p\n# trailing note\ndeny[msg] { false }",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headerComment(tt.src); got != tt.want {
				t.Errorf("headerComment = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadBundle(t *testing.T) {
	loader := newTestLoader()

	bundle := Bundle{
		Name:        "site-rules",
		Version:     "1.0.0",
		Description: "Rules shared across labs",
		Policies: []Policy{
			{
				Name:     "no-lis-driver",
				Rego:     "package p1\ndeny[msg] { false }",
				Severity: SeverityError,
				Enabled:  true,
			},
			{
				Name:     "working-hours",
				Rego:     "package p2\ndeny[msg] { false }",
				Severity: SeverityWarning,
				Enabled:  true,
			},
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}

	bundlePath := filepath.Join(t.TempDir(), "bundle.json")
	writeRule(t, bundlePath, string(data))

	loaded, err := loader.LoadBundle(context.Background(), bundlePath)
	if err != nil {
		t.Fatalf("LoadBundle: %v", err)
	}
	if loaded.Name != bundle.Name || loaded.Version != bundle.Version {
		t.Errorf("bundle header = %s/%s, want %s/%s", loaded.Name, loaded.Version, bundle.Name, bundle.Version)
	}
	if len(loaded.Policies) != len(bundle.Policies) {
		t.Errorf("expected %d policies, got %d", len(bundle.Policies), len(loaded.Policies))
	}
}
