package tofu

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFindVarFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"main.tf",
		"prod.tfvars",
		"envs/dev.tfvars",
		".terraform/cached.tfvars",
		".git/stray.tfvars",
		"venv/pkg.tfvars",
		".hidden/sneaky.tfvars",
	)

	found, err := FindVarFiles(dir)
	if err != nil {
		t.Fatalf("FindVarFiles: %v", err)
	}

	want := []string{
		filepath.Join(dir, "envs/dev.tfvars"),
		filepath.Join(dir, "prod.tfvars"),
	}
	if len(found) != len(want) {
		t.Fatalf("found = %v, want %v", found, want)
	}
	for i := range want {
		if found[i] != want[i] {
			t.Errorf("found[%d] = %q, want %q", i, found[i], want[i])
		}
	}
}

func TestFindVarFilesScopedToRecipeDir(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"recipes/network/prod.tfvars",
		"recipes/compute/prod.tfvars",
		"shared.tfvars",
	)

	found, err := FindVarFiles(filepath.Join(root, "recipes", "network"))
	if err != nil {
		t.Fatalf("FindVarFiles: %v", err)
	}
	if len(found) != 1 || found[0] != filepath.Join(root, "recipes/network/prod.tfvars") {
		t.Errorf("found = %v, want only the recipe's own file", found)
	}
}

func TestFindVarFilesEmpty(t *testing.T) {
	found, err := FindVarFiles(t.TempDir())
	if err != nil {
		t.Fatalf("FindVarFiles: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("found = %v, want none", found)
	}
}

func TestFindLocalModules(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "modules/network/main.tf", "modules/compute/main.tf")

	manifest := `{
		"Modules": [
			{"Key": "", "Source": "", "Dir": "."},
			{"Key": "network", "Source": "./modules/network", "Dir": "modules/network"},
			{"Key": "network_again", "Source": "./modules/network", "Dir": "modules/network"},
			{"Key": "compute", "Source": "../` + filepath.Base(dir) + `/modules/compute", "Dir": "modules/compute"},
			{"Key": "vpc", "Source": "terraform-aws-modules/vpc/aws", "Dir": ".terraform/modules/vpc"}
		]
	}`
	manifestPath := filepath.Join(dir, modulesManifestFile)
	if err := os.MkdirAll(filepath.Dir(manifestPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	dirs, err := FindLocalModules(dir)
	if err != nil {
		t.Fatalf("FindLocalModules: %v", err)
	}

	if len(dirs) != 2 {
		t.Fatalf("dirs = %v, want the two local modules deduplicated", dirs)
	}
	wantCompute, _ := filepath.Abs(filepath.Join(dir, "modules/compute"))
	wantNetwork, _ := filepath.Abs(filepath.Join(dir, "modules/network"))
	if dirs[0] != wantCompute || dirs[1] != wantNetwork {
		t.Errorf("dirs = %v, want [%s %s]", dirs, wantCompute, wantNetwork)
	}
}

func TestFindLocalModulesNoManifest(t *testing.T) {
	dirs, err := FindLocalModules(t.TempDir())
	if err != nil {
		t.Fatalf("FindLocalModules: %v", err)
	}
	if dirs != nil {
		t.Errorf("dirs = %v, want nil", dirs)
	}
}
