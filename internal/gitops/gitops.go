// Package gitops reads the state of the git checkout a run executes in.
package gitops

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/signalnine/verdict/internal/result"
)

// Describe returns the commit, branch and dirtiness of the repository
// containing dir.
func Describe(dir string) (*result.GitInfo, error) {
	commit, err := git(dir, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	branch, err := git(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	status, err := git(dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return &result.GitInfo{Commit: commit, Branch: branch, Dirty: status != ""}, nil
}

func git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderr, err)
	}
	return strings.TrimSpace(string(out)), nil
}
