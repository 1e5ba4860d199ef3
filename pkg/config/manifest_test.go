package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ManifestFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
recipes:
  - path: recipes/network
    nickname: core-network
    var_files:
      - recipes/network/prod.tfvars
  - path: recipes/compute
policy_paths:
  - policies/
visualiser_host: https://vis.example.com
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(m.Recipes) != 2 {
		t.Fatalf("recipes = %d, want 2", len(m.Recipes))
	}
	if m.Recipes[0].Nickname != "core-network" {
		t.Errorf("nickname = %q", m.Recipes[0].Nickname)
	}
	if m.Recipes[1].Nickname != "compute" {
		t.Errorf("defaulted nickname = %q, want directory base name", m.Recipes[1].Nickname)
	}
	if m.VisualiserHost != "https://vis.example.com" {
		t.Errorf("visualiser host = %q", m.VisualiserHost)
	}
	if len(m.PolicyPaths) != 1 || m.PolicyPaths[0] != "policies/" {
		t.Errorf("policy paths = %v", m.PolicyPaths)
	}
}

func TestLoadManifestRequiresRecipes(t *testing.T) {
	path := writeManifest(t, "policy_paths:\n  - policies/\n")
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for manifest without recipes")
	}
}

func TestLoadManifestRequiresRecipePath(t *testing.T) {
	path := writeManifest(t, "recipes:\n  - nickname: orphan\n")
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected error for recipe without path")
	}
}

func TestLoadManifestBadYAML(t *testing.T) {
	path := writeManifest(t, "recipes: [unclosed")
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFindManifest(t *testing.T) {
	dir := t.TempDir()
	if got := FindManifest(dir); got != "" {
		t.Errorf("FindManifest = %q, want empty for missing manifest", got)
	}

	path := filepath.Join(dir, ManifestFile)
	if err := os.WriteFile(path, []byte("recipes: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := FindManifest(dir); got != path {
		t.Errorf("FindManifest = %q, want %q", got, path)
	}
}
