package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestCheckExposureOutsideRepo(t *testing.T) {
	exp := CheckExposure(t.TempDir(), []string{"secret.txt"})
	require.False(t, exp.IsRepo)
	require.True(t, exp.Empty())
	require.Empty(t, FormatExposure(exp))
}

func TestCheckExposure(t *testing.T) {
	if !Available() {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	runGit(t, dir, "init", "-q")

	for _, name := range []string{"tracked.txt", "ignored.txt", "loose.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("ignored.txt\n"), 0600))
	runGit(t, dir, "add", "tracked.txt")

	exp := CheckExposure(dir, []string{"tracked.txt", "ignored.txt", "loose.txt"})
	require.True(t, exp.IsRepo)
	require.Equal(t, []string{"tracked.txt"}, exp.Tracked)
	require.Equal(t, []string{"loose.txt"}, exp.Unignored)

	out := FormatExposure(exp)
	require.Contains(t, out, "git rm --cached tracked.txt")
	require.Contains(t, out, "loose.txt not in .gitignore")
	require.NotContains(t, out, "ignored.txt not")
}
