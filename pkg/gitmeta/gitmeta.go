// Package gitmeta extracts commit metadata from the checked-out repository
// and decides whether a recipe needs re-planning based on what a push
// changed.
package gitmeta

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// timestampLayout is the wire format the visualiser host expects.
const timestampLayout = "2006-01-02T15:04:05"

// GitRunner runs a git subcommand in a repository and returns its stdout.
type GitRunner interface {
	Git(ctx context.Context, repoDir string, args ...string) (string, error)
}

// ExecGit shells out to the git binary.
type ExecGit struct{}

// Git implements GitRunner.
func (ExecGit) Git(ctx context.Context, repoDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Meta answers questions about the repository at RepoDir.
type Meta struct {
	git     GitRunner
	repoDir string
}

// New returns a Meta for repoDir using the real git binary.
func New(repoDir string) *Meta {
	return &Meta{git: ExecGit{}, repoDir: repoDir}
}

// NewWithRunner returns a Meta with a custom git backend.
func NewWithRunner(repoDir string, git GitRunner) *Meta {
	return &Meta{git: git, repoDir: repoDir}
}

// CommitTimestamp renders the commit time of sha as a UTC
// "2006-01-02T15:04:05" string.
func (m *Meta) CommitTimestamp(ctx context.Context, sha string) (string, error) {
	out, err := m.git.Git(ctx, m.repoDir, "show", "--no-patch", "--format=%ct", sha)
	if err != nil {
		return "", fmt.Errorf("reading commit timestamp for %s: %w", sha, err)
	}
	epoch, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return "", fmt.Errorf("commit timestamp for %s is not an epoch: %q", sha, out)
	}
	return time.Unix(epoch, 0).UTC().Format(timestampLayout), nil
}

// ChangedPaths lists the files touched between two commits.
func (m *Meta) ChangedPaths(ctx context.Context, baseSHA, headSHA string) ([]string, error) {
	out, err := m.git.Git(ctx, m.repoDir, "diff", "--name-only", baseSHA, headSHA)
	if err != nil {
		return nil, fmt.Errorf("diffing %s..%s: %w", baseSHA, headSHA, err)
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// HasRecipeChanges reports whether any changed path sits under recipeDir
// (relative to the repository root). A change to a workflow file forces a
// run regardless, since pipeline definition changes can alter what a plan
// produces.
func HasRecipeChanges(changed []string, recipeDir string) bool {
	recipeDir = filepath.ToSlash(filepath.Clean(recipeDir))
	for _, p := range changed {
		p = filepath.ToSlash(p)
		if strings.HasPrefix(p, ".github/workflows/") {
			return true
		}
		if p == recipeDir || strings.HasPrefix(p, recipeDir+"/") {
			return true
		}
	}
	return false
}
