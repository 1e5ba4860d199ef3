package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
)

func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("content of "+p), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func archiveEntries(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)

	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	return names
}

func TestCreateCollectsRecipeFiles(t *testing.T) {
	root := t.TempDir()
	recipe := filepath.Join(root, "recipes", "network")
	writeTree(t, recipe,
		"main.tf",
		"variables.tf",
		"tfplan.json",
		"terraform_graph.dot",
		"README.md",
		".terraform/modules/modules.json",
	)

	out := filepath.Join(t.TempDir(), "network.tar.gz")
	if err := NewBuilder(zerolog.Nop()).Create(recipe, out, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := []string{
		"network/.terraform/modules/modules.json",
		"network/main.tf",
		"network/terraform_graph.dot",
		"network/tfplan.json",
		"network/variables.tf",
	}
	got := archiveEntries(t, out)
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCreateIncludesExtraDirsRecursively(t *testing.T) {
	root := t.TempDir()
	recipe := filepath.Join(root, "recipes", "compute")
	writeTree(t, recipe, "main.tf")
	moduleDir := filepath.Join(root, "recipes", "shared")
	writeTree(t, moduleDir, "module.tf", "nested/more.tf")

	out := filepath.Join(t.TempDir(), "compute.tar.gz")
	builder := NewBuilder(zerolog.Nop())
	missing := filepath.Join(root, "not-there")
	if err := builder.Create(recipe, out, []string{moduleDir, missing}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := []string{
		"compute/main.tf",
		"shared/module.tf",
		"shared/nested/more.tf",
	}
	got := archiveEntries(t, out)
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDefaultArchiveName(t *testing.T) {
	if got := DefaultArchiveName("/repo/recipes/network/"); got != "network.tar.gz" {
		t.Errorf("DefaultArchiveName = %q", got)
	}
}
