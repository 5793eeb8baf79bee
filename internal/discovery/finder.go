package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/gitvec/gitvec/internal/config"
	"github.com/gitvec/gitvec/internal/gittopo"
)

// FileMeta describes one candidate file discovered under the root.
type FileMeta struct {
	RelPath string
	Size    int64
	ModTime time.Time
}

// Finder enumerates indexable files under a repository root.
type Finder interface {
	FindFiles() ([]FileMeta, error)
	ShouldIndex(relPath string) bool
}

type finder struct {
	root    string
	cfg     config.DiscoveryConfig
	git     gittopo.Service
	ignores *IgnoreMatcher
}

// NewFinder builds a Finder for root. When the root is a git work tree,
// enumeration prefers git's tracked-file list; otherwise the tree is walked
// with gitignore and exclusion rules applied.
func NewFinder(root string, cfg config.DiscoveryConfig, git gittopo.Service) (Finder, error) {
	f := &finder{root: root, cfg: cfg, git: git, ignores: NewIgnoreMatcher()}
	if cfg.UseGitignoreEnabled() {
		if err := f.ignores.LoadGitignore(filepath.Join(root, ".gitignore")); err != nil {
			return nil, fmt.Errorf("load gitignore: %w", err)
		}
	}
	return f, nil
}

func (f *finder) FindFiles() ([]FileMeta, error) {
	if f.git != nil && f.git.IsRepo() {
		if metas, err := f.findTracked(); err == nil {
			return metas, nil
		}
		// fall through to a plain walk when git enumeration fails
	}
	return f.walk()
}

func (f *finder) findTracked() ([]FileMeta, error) {
	files, err := f.git.ListTrackedFiles()
	if err != nil {
		return nil, err
	}
	metas := make([]FileMeta, 0, len(files))
	for _, rel := range files {
		if !f.ShouldIndex(rel) {
			continue
		}
		info, err := os.Stat(filepath.Join(f.root, filepath.FromSlash(rel)))
		if err != nil {
			continue // deleted since the last commit; reconciliation handles it
		}
		if f.tooLarge(info.Size()) {
			continue
		}
		metas = append(metas, FileMeta{RelPath: rel, Size: info.Size(), ModTime: info.ModTime()})
	}
	return metas, nil
}

func (f *finder) walk() ([]FileMeta, error) {
	var metas []FileMeta
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(f.root, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if !f.shouldDescend(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.ShouldIndex(rel) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		if f.tooLarge(info.Size()) {
			return nil
		}
		metas = append(metas, FileMeta{RelPath: rel, Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", f.root, err)
	}
	return metas, nil
}

func (f *finder) shouldDescend(relDir string) bool {
	base := filepath.Base(relDir)
	for _, dir := range f.cfg.ExcludeDirs {
		if base == strings.TrimSuffix(dir, "/") {
			return false
		}
	}
	if f.cfg.UseGitignoreEnabled() && f.ignores.Match(relDir+"/", true) {
		return false
	}
	return true
}

// ShouldIndex applies gitignore rules, exclusion globs, excluded directory
// components, and the extension allowlist to a repo-relative path.
func (f *finder) ShouldIndex(relPath string) bool {
	if f.cfg.UseGitignoreEnabled() && f.ignores.Match(relPath, false) {
		return false
	}

	for _, pattern := range f.cfg.Exclude {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return false
		}
		if matched, _ := doublestar.Match(pattern, filepath.Base(relPath)); matched {
			return false
		}
	}

	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for i, part := range parts {
		if i == len(parts)-1 {
			break
		}
		for _, dir := range f.cfg.ExcludeDirs {
			if part == strings.TrimSuffix(dir, "/") {
				return false
			}
		}
	}

	if len(f.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(relPath))
	for _, allowed := range f.cfg.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

func (f *finder) tooLarge(size int64) bool {
	return f.cfg.MaxFileSize > 0 && size > f.cfg.MaxFileSize
}
