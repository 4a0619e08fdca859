package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Exposure lists decrypted files that git could pick up
type Exposure struct {
	IsRepo    bool
	Tracked   []string // Tracked by git (critical)
	Unignored []string // Untracked but not ignored (warning)
}

// Empty reports whether nothing is exposed
func (e *Exposure) Empty() bool {
	return e == nil || (len(e.Tracked) == 0 && len(e.Unignored) == 0)
}

// Available reports whether the git binary can be run
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// IsGitRepo checks if the directory is inside a git work tree
func IsGitRepo(workDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workDir
	return cmd.Run() == nil
}

// IsTracked checks if a file is tracked by git
func IsTracked(workDir, path string) bool {
	cmd := exec.Command("git", "ls-files", "--", path)
	cmd.Dir = workDir
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(workDir, path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", path)
	cmd.Dir = workDir
	// git check-ignore exits 0 when the path is ignored
	return cmd.Run() == nil
}

// CheckExposure classifies files, given relative to workDir. Outside a
// work tree, or without git installed, nothing is exposed.
func CheckExposure(workDir string, files []string) *Exposure {
	exp := &Exposure{}
	if !Available() || !IsGitRepo(workDir) {
		return exp
	}
	exp.IsRepo = true

	for _, file := range files {
		switch {
		case IsTracked(workDir, file):
			exp.Tracked = append(exp.Tracked, file)
		case !IsIgnored(workDir, file):
			exp.Unignored = append(exp.Unignored, file)
		}
	}
	return exp
}

// FormatExposure formats an exposure report for display
func FormatExposure(exp *Exposure) string {
	if exp.Empty() {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit exposure:\n")
	if len(exp.Tracked) > 0 {
		result.WriteString(fmt.Sprintf("   error: %d decrypted file(s) tracked by git:\n", len(exp.Tracked)))
		for _, file := range exp.Tracked {
			result.WriteString(fmt.Sprintf("      - %s (run: git rm --cached %s)\n", file, file))
		}
	}
	for _, file := range exp.Unignored {
		result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore\n", file))
	}
	return result.String()
}
