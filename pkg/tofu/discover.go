package tofu

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// modulesManifestFile is written by `tofu init` under the data directory.
const modulesManifestFile = ".terraform/modules/modules.json"

// skipDirs are directory names never descended into during variable-file
// discovery.
var skipDirs = map[string]bool{
	".git":        true,
	".github":     true,
	".terraform":  true,
	".venv":       true,
	"venv":        true,
	"__pycache__": true,
}

// FindVarFiles walks recipeDir and returns every *.tfvars file beneath it,
// sorted, skipping tool and VCS directories. Paths come back absolute.
func FindVarFiles(recipeDir string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(recipeDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != recipeDir && (skipDirs[name] || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".tfvars") {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			found = append(found, abs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}

// moduleEntry is one record in the init-generated module manifest.
type moduleEntry struct {
	Key    string `json:"Key"`
	Source string `json:"Source"`
	Dir    string `json:"Dir"`
}

// modulesManifest mirrors the manifest's top-level shape.
type modulesManifest struct {
	Modules []moduleEntry `json:"Modules"`
}

// FindLocalModules reads the module manifest that init leaves behind and
// returns the directories of locally sourced modules, deduplicated by
// resolved path. The root module itself (empty key) is excluded. A missing
// manifest means no modules: nil, nil.
func FindLocalModules(recipeDir string) ([]string, error) {
	raw, err := os.ReadFile(filepath.Join(recipeDir, modulesManifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var manifest modulesManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var dirs []string
	for _, m := range manifest.Modules {
		if m.Key == "" || !isLocalSource(m.Source) {
			continue
		}
		dir := m.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(recipeDir, dir)
		}
		resolved, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if seen[resolved] {
			continue
		}
		if info, err := os.Stat(resolved); err != nil || !info.IsDir() {
			continue
		}
		seen[resolved] = true
		dirs = append(dirs, resolved)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// isLocalSource reports whether a module source is a filesystem path rather
// than a registry or remote address.
func isLocalSource(source string) bool {
	return strings.HasPrefix(source, "./") || strings.HasPrefix(source, "../")
}
