package discovery

import (
	"bufio"
	"bytes"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type ignoreRule struct {
	pattern string
	isDir   bool
	negated bool
	matchFn func(string) bool
}

// IgnoreMatcher evaluates .gitignore-style rules against repo-relative paths.
type IgnoreMatcher struct {
	rules []ignoreRule
}

func NewIgnoreMatcher() *IgnoreMatcher {
	return &IgnoreMatcher{rules: make([]ignoreRule, 0)}
}

// LoadGitignore parses the .gitignore at the given path; a missing file is
// not an error.
func (m *IgnoreMatcher) LoadGitignore(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return m.Parse(content)
}

// Parse appends rules from raw gitignore content.
func (m *IgnoreMatcher) Parse(content []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.AddPattern(line)
	}
	return scanner.Err()
}

// AddPattern appends one gitignore-style pattern.
func (m *IgnoreMatcher) AddPattern(pattern string) {
	rule := ignoreRule{pattern: pattern}

	if strings.HasPrefix(rule.pattern, "!") {
		rule.negated = true
		rule.pattern = strings.TrimPrefix(rule.pattern, "!")
	}
	if strings.HasSuffix(rule.pattern, "/") {
		rule.isDir = true
		rule.pattern = strings.TrimSuffix(rule.pattern, "/")
	}

	if strings.HasPrefix(rule.pattern, "/") {
		// anchored to the repo root
		anchored := strings.TrimPrefix(rule.pattern, "/")
		rule.matchFn = func(path string) bool {
			matched, _ := doublestar.Match(anchored, path)
			return matched
		}
	} else {
		p := rule.pattern
		rule.matchFn = func(path string) bool {
			matched, _ := doublestar.Match("**/"+p, path)
			if !matched {
				matched, _ = doublestar.Match(p, path)
			}
			return matched
		}
	}

	m.rules = append(m.rules, rule)
}

// Match reports whether relPath is excluded. Later rules win, so negations
// can re-include previously excluded paths. A directory rule also excludes
// every file below the directory.
func (m *IgnoreMatcher) Match(relPath string, isDir bool) bool {
	p := strings.TrimSuffix(filepath.ToSlash(relPath), "/")

	excluded := false
	for _, rule := range m.rules {
		hit := false
		if rule.isDir && !isDir {
			for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
				if rule.matchFn(dir) {
					hit = true
					break
				}
			}
		} else {
			hit = rule.matchFn(p)
		}
		if hit {
			excluded = !rule.negated
		}
	}
	return excluded
}
