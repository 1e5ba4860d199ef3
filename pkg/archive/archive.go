// Package archive packages a planned recipe directory into a gzipped tarball
// for publishing. Entry names are relative to the recipe directory's parent
// so archives from different checkouts stay comparable.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// recipePatterns selects the files collected from the recipe directory
// itself: configuration, derived JSON artifacts, and the dependency graph.
var recipePatterns = []string{"*.tf", "*.json", "*.dot"}

// modulesManifest is included when init has produced it.
const modulesManifest = ".terraform/modules/modules.json"

// Builder creates recipe archives.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder returns a Builder logging through the given logger.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Create writes a tar.gz at archivePath containing the recipe directory's
// matching files, the module manifest when present, and any extra paths
// (directories are added recursively). Missing extras are skipped, not
// errors.
func (b *Builder) Create(recipeDir, archivePath string, extraPaths []string) error {
	recipeDir, err := filepath.Abs(recipeDir)
	if err != nil {
		return err
	}
	base := filepath.Dir(recipeDir)

	var files []string
	for _, pattern := range recipePatterns {
		matches, err := filepath.Glob(filepath.Join(recipeDir, pattern))
		if err != nil {
			return err
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
				files = append(files, m)
			}
		}
	}

	manifest := filepath.Join(recipeDir, modulesManifest)
	if info, err := os.Stat(manifest); err == nil && info.Mode().IsRegular() {
		files = append(files, manifest)
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		if err := b.addFile(tw, base, f); err != nil {
			return err
		}
	}
	for _, extra := range extraPaths {
		abs, err := filepath.Abs(extra)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			b.logger.Warn().Str("path", extra).Msg("Skipping missing extra path")
			continue
		}
		if info.IsDir() {
			if err := b.addDir(tw, base, abs); err != nil {
				return err
			}
		} else if err := b.addFile(tw, base, abs); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finishing gzip stream: %w", err)
	}

	b.logger.Info().Str("archive", archivePath).Int("recipe_files", len(files)).
		Msg("Recipe archive created")
	return nil
}

func (b *Builder) addDir(tw *tar.Writer, base, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return b.addFile(tw, base, path)
	})
}

func (b *Builder) addFile(tw *tar.Writer, base, path string) error {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return fmt.Errorf("relativizing %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", rel, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archiving %s: %w", rel, err)
	}
	return nil
}

// DefaultArchiveName derives the archive file name from the recipe directory.
func DefaultArchiveName(recipeDir string) string {
	name := filepath.Base(filepath.Clean(recipeDir))
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return name + ".tar.gz"
}
