package gitadapter_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/preflight/preflight/internal/domain"
	"github.com/preflight/preflight/internal/gitadapter"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")
	return dir
}

func writeAndCommit(t *testing.T, dir, name, content, msg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	runGit(t, dir, "add", name)
	runGit(t, dir, "commit", "-q", "-m", msg)
}

func TestValidateRepo(t *testing.T) {
	dir := initRepo(t)
	a := gitadapter.New(dir)
	require.NoError(t, a.ValidateRepo(context.Background()))

	notRepo := t.TempDir()
	err := gitadapter.New(notRepo).ValidateRepo(context.Background())
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindBadRequest))
}

func TestDiffAgainst(t *testing.T) {
	dir := initRepo(t)
	writeAndCommit(t, dir, "main.go", "package main\n", "initial")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	a := gitadapter.New(dir)
	out, err := a.DiffAgainst(context.Background(), "HEAD")
	require.NoError(t, err)
	require.Contains(t, out, "func main()")
}

func TestDiffAgainst_BadRef(t *testing.T) {
	dir := initRepo(t)
	writeAndCommit(t, dir, "main.go", "package main\n", "initial")

	a := gitadapter.New(dir)
	_, err := a.DiffAgainst(context.Background(), "does-not-exist")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindBadRequest))
}

func TestReadOld(t *testing.T) {
	dir := initRepo(t)
	writeAndCommit(t, dir, "a.txt", "v1\n", "initial")

	a := gitadapter.New(dir)
	content, err := a.ReadOld(context.Background(), "a.txt", "HEAD")
	require.NoError(t, err)
	require.Equal(t, "v1\n", content)
}

func TestReadOld_MissingFile(t *testing.T) {
	dir := initRepo(t)
	writeAndCommit(t, dir, "a.txt", "v1\n", "initial")

	a := gitadapter.New(dir)
	_, err := a.ReadOld(context.Background(), "missing.txt", "HEAD")
	require.Error(t, err)
}

func TestReadNew(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("working copy\n"), 0o644))

	a := gitadapter.New(dir)
	content, err := a.ReadNew(context.Background(), "b.txt")
	require.NoError(t, err)
	require.Equal(t, "working copy\n", content)
}

func TestReadNew_NotFound(t *testing.T) {
	dir := initRepo(t)
	a := gitadapter.New(dir)
	_, err := a.ReadNew(context.Background(), "nope.txt")
	require.Error(t, err)
	require.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestDetectDefaultBase_FallsBackToHEAD(t *testing.T) {
	dir := initRepo(t)
	writeAndCommit(t, dir, "a.txt", "v1\n", "initial")

	a := gitadapter.New(dir)
	base := a.DetectDefaultBase(context.Background())
	require.Equal(t, "HEAD", base)
}

func TestDetectDefaultBase_LocalMain(t *testing.T) {
	dir := initRepo(t)
	writeAndCommit(t, dir, "a.txt", "v1\n", "initial")
	runGit(t, dir, "branch", "-m", "main")

	a := gitadapter.New(dir)
	base := a.DetectDefaultBase(context.Background())
	require.Equal(t, "main", base)
}
