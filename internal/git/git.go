// Package git provides the commit step of the phase loop: staging, commit
// message rendering, and optional push.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
)

// ErrNothingToCommit is returned by CommitAll when the working tree is
// clean. Callers should treat this as non-fatal.
var ErrNothingToCommit = errors.New("nothing to commit")

// CommitInfo carries the values the commit message template can render.
type CommitInfo struct {
	Module     string
	PhaseID    string
	PhaseName  string
	Iterations int
	Duration   string
}

// RenderMessage executes the commit message template against info.
// Template fields: {{.Module}}, {{.PhaseID}}, {{.PhaseName}},
// {{.Iterations}}, {{.Duration}}.
func RenderMessage(tmpl string, info CommitInfo) (string, error) {
	t, err := template.New("commit").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse commit template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, info); err != nil {
		return "", fmt.Errorf("render commit message: %w", err)
	}
	return b.String(), nil
}

// HasChanges reports whether the working tree has staged or unstaged
// changes, including untracked files.
func HasChanges(repoDir string) (bool, error) {
	out, err := run(repoDir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ChangedFiles returns the paths touched in the working tree, parsed from
// porcelain status output.
func ChangedFiles(repoDir string) ([]string, error) {
	out, err := run(repoDir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames show as "old -> new"; keep the new path.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		files = append(files, path)
	}
	return files, nil
}

// CommitAll stages everything and commits with the given message,
// returning the new commit hash. A clean tree returns ErrNothingToCommit.
func CommitAll(repoDir, message string) (string, error) {
	dirty, err := HasChanges(repoDir)
	if err != nil {
		return "", fmt.Errorf("CommitAll: check status: %w", err)
	}
	if !dirty {
		return "", ErrNothingToCommit
	}

	if _, err := run(repoDir, "add", "-A"); err != nil {
		return "", fmt.Errorf("CommitAll: stage changes: %w", err)
	}
	if _, err := run(repoDir, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("CommitAll: commit: %w", err)
	}

	hash, err := run(repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("CommitAll: resolve HEAD: %w", err)
	}
	return strings.TrimSpace(hash), nil
}

// CurrentBranch returns the checked-out branch name.
func CurrentBranch(repoDir string) (string, error) {
	out, err := run(repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Push pushes the current branch to origin.
func Push(repoDir string) error {
	branch, err := CurrentBranch(repoDir)
	if err != nil {
		return fmt.Errorf("Push: get branch: %w", err)
	}
	if _, err := run(repoDir, "push", "origin", branch); err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	return nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(dir string) bool {
	out, err := run(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func run(repoDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
