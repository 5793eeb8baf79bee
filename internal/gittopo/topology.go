package gittopo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Service answers branch-topology questions for one repository by shelling
// out to git. All methods return wrapped errors carrying git's stderr.
type Service interface {
	IsRepo() bool
	CurrentBranch() (string, error)
	DefaultBranch() (string, error)
	HeadCommit(branch string) (string, error)
	MergeBase(a, b string) (string, error)
	MergeBaseDistance(branch, base string) (int, error)
	BranchesContainingCommit(commit string) ([]string, error)
	ListTrackedFiles() ([]string, error)
}

type gitService struct {
	root string
}

// New returns a Service rooted at the given directory.
func New(root string) Service {
	return &gitService{root: root}
}

// FindRoot walks upward from start looking for a .git directory.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("no git root found from %s", start)
}

func (s *gitService) IsRepo() bool {
	_, err := os.Stat(filepath.Join(s.root, ".git"))
	return err == nil
}

func (s *gitService) CurrentBranch() (string, error) {
	out, err := s.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" || branch == "HEAD" {
		// detached HEAD: fall back to the commit itself as a pseudo-branch
		commit, cerr := s.run("rev-parse", "HEAD")
		if cerr != nil {
			return "", fmt.Errorf("current branch: %w", cerr)
		}
		return "detached-" + strings.TrimSpace(commit)[:12], nil
	}
	return branch, nil
}

func (s *gitService) DefaultBranch() (string, error) {
	out, err := s.run("symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(out)
		if idx := strings.LastIndex(ref, "/"); idx >= 0 {
			return ref[idx+1:], nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if _, err := s.run("rev-parse", "--verify", "refs/heads/"+candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("default branch: no origin/HEAD, main, or master")
}

func (s *gitService) HeadCommit(branch string) (string, error) {
	out, err := s.run("rev-parse", branch)
	if err != nil {
		return "", fmt.Errorf("head of %s: %w", branch, err)
	}
	return strings.TrimSpace(out), nil
}

func (s *gitService) MergeBase(a, b string) (string, error) {
	out, err := s.run("merge-base", a, b)
	if err != nil {
		return "", fmt.Errorf("merge-base %s %s: %w", a, b, err)
	}
	return strings.TrimSpace(out), nil
}

// MergeBaseDistance counts commits on branch since its merge-base with base.
// Zero means base points at the same history position as branch.
func (s *gitService) MergeBaseDistance(branch, base string) (int, error) {
	mb, err := s.MergeBase(branch, base)
	if err != nil {
		return 0, err
	}
	out, err := s.run("rev-list", "--count", mb+".."+branch)
	if err != nil {
		return 0, fmt.Errorf("rev-list count: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return n, nil
}

func (s *gitService) BranchesContainingCommit(commit string) ([]string, error) {
	out, err := s.run("branch", "--format=%(refname:short)", "--contains", commit)
	if err != nil {
		return nil, fmt.Errorf("branches containing %s: %w", commit, err)
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

func (s *gitService) ListTrackedFiles() ([]string, error) {
	out, err := s.run("ls-files")
	if err != nil {
		return nil, fmt.Errorf("ls-files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (s *gitService) run(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", s.root}, args...)...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}
