// Package gitadapter invokes the git CLI as a subprocess to produce diff
// text and read file contents at a ref. It never touches git's object
// database directly; every operation shells out to `git` (spec.md §4.2).
package gitadapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/preflight/preflight/internal/domain"
)

// Adapter invokes git against a single working tree.
type Adapter struct {
	repoDir string
}

// New constructs an Adapter rooted at repoDir.
func New(repoDir string) *Adapter {
	return &Adapter{repoDir: repoDir}
}

// ValidateRepo fails with a BadRequest ServiceError if repoDir does not look
// like a git working tree (no .git entry).
func (a *Adapter) ValidateRepo(ctx context.Context) error {
	gitDir := filepath.Join(a.repoDir, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return domain.BadRequest("not a git repository: %s", a.repoDir)
	}
	return nil
}

// DiffAgainst returns the unified diff text of the working tree against
// baseRef, equivalent to `git -C repoDir diff baseRef --`.
func (a *Adapter) DiffAgainst(ctx context.Context, baseRef string) (string, error) {
	out, err := a.run(ctx, "diff", baseRef, "--")
	if err != nil {
		return "", wrapGitError(err, "diff against %s", baseRef)
	}
	return out, nil
}

// ReadOld returns the content of file as it exists at ref, equivalent to
// `git -C repoDir show ref:file`. A file not present in that commit
// surfaces as a GitFailed (BadRequest) error.
func (a *Adapter) ReadOld(ctx context.Context, file, ref string) (string, error) {
	out, err := a.run(ctx, "show", fmt.Sprintf("%s:%s", ref, file))
	if err != nil {
		return "", wrapGitError(err, "read %s at %s", file, ref)
	}
	return out, nil
}

// ReadNew reads file from the working copy, distinguishing a missing file
// from any other I/O failure.
func (a *Adapter) ReadNew(ctx context.Context, file string) (string, error) {
	full := filepath.Join(a.repoDir, file)
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.NotFound("file not found in working copy: %s", file)
		}
		return "", domain.Internal(err, "read working copy file %s", file)
	}
	return string(data), nil
}

// DetectDefaultBase attempts, in order: the remote HEAD's tracking branch
// merge-base with HEAD, then local main, then local master, falling back to
// the literal "HEAD" if nothing resolves.
func (a *Adapter) DetectDefaultBase(ctx context.Context) string {
	if symref, err := a.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		branch := strings.TrimPrefix(strings.TrimSpace(symref), "refs/remotes/origin/")
		if branch != "" {
			if _, err := a.run(ctx, "merge-base", branch, "HEAD"); err == nil {
				return branch
			}
		}
	}

	for _, candidate := range []string{"main", "master"} {
		if _, err := a.run(ctx, "rev-parse", "--verify", candidate); err == nil {
			return candidate
		}
	}

	return "HEAD"
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", a.repoDir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return "", err
	}
	return stdout.String(), nil
}

// wrapGitError coerces a subprocess failure into a ServiceError. A missing
// git binary or other spawn failure is Internal; everything else (bad ref,
// bad path) is treated as user error.
func wrapGitError(err error, format string, args ...interface{}) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return domain.Internal(err, "git subprocess failed to start")
	}
	msg := fmt.Sprintf(format, args...)
	return domain.BadRequest("%s: %v", msg, err)
}
