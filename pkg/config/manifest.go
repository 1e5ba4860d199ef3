package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the repository manifest name, looked up at the repo root.
const ManifestFile = ".infravista.yaml"

// Recipe describes one recipe directory in the manifest.
type Recipe struct {
	// Path is the recipe directory relative to the repository root.
	Path string `yaml:"path" validate:"required"`

	// Nickname is the display name; defaults to the directory base name.
	Nickname string `yaml:"nickname"`

	// VarFiles pins the variable files to try, in order. Empty means
	// discover them by walking the recipe directory.
	VarFiles []string `yaml:"var_files"`
}

// Manifest is the parsed repository manifest.
type Manifest struct {
	// Recipes lists the recipe directories to process.
	Recipes []Recipe `yaml:"recipes" validate:"required,min=1,dive"`

	// PolicyPaths lists extra policy files or directories to load.
	PolicyPaths []string `yaml:"policy_paths"`

	// VisualiserHost overrides the upload target host.
	VisualiserHost string `yaml:"visualiser_host"`
}

// LoadManifest reads and validates the manifest at path. A missing file is
// an error; callers that treat the manifest as optional should stat first.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := validator.New().Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest %s is invalid: %w", path, err)
	}

	for i := range m.Recipes {
		if m.Recipes[i].Nickname == "" {
			m.Recipes[i].Nickname = filepath.Base(filepath.Clean(m.Recipes[i].Path))
		}
	}
	return &m, nil
}

// FindManifest looks for the manifest starting at dir. Returns the empty
// string when none exists.
func FindManifest(dir string) string {
	path := filepath.Join(dir, ManifestFile)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		return path
	}
	return ""
}
