package discover

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
	"github.com/chunkhound/chunkhound/internal/gitignore"
)

// gitignoreCacheSize bounds the number of parsed .gitignore matchers
// kept per Walker, mirroring the teacher's per-scan gitignoreCache.
const gitignoreCacheSize = 1000

// Walker performs traversals and caches parsed ignore files across
// calls, so a long-lived process (the MCP server, the periodic
// scanner) does not reparse the same .gitignore file on every pass.
type Walker struct {
	ignoreCache *lru.Cache[string, *gitignore.Matcher]
}

// NewWalker returns a ready-to-use Walker.
func NewWalker() *Walker {
	cache, _ := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	return &Walker{ignoreCache: cache}
}

// Discover performs one fs.WalkDir pass over opts.RootDir. Each entry
// is tested against include/exclude patterns as it is visited; there
// is no separate globbing pass over the result (§4.6).
func (w *Walker) Discover(ctx context.Context, opts Options) ([]FileInfo, error) {
	root := opts.RootDir
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, chunkerr.Contract("ERR_DISCOVER_BAD_ROOT", "cannot resolve root directory: "+err.Error())
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, chunkerr.Contract("ERR_DISCOVER_ROOT_STAT", "cannot stat root directory: "+err.Error())
	}
	if !info.IsDir() {
		return nil, chunkerr.Contract("ERR_DISCOVER_ROOT_NOT_DIR", "root path is not a directory: "+absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var files []FileInfo
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil // inaccessible entry; skip rather than abort the pass
		}

		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if isHiddenName(d.Name()) || w.excludedDir(relPath, absRoot, opts) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if isHiddenName(d.Name()) {
			return nil
		}
		if !includeMatch(relPath, opts.Include) {
			return nil
		}
		if w.excludedFile(relPath, absRoot, opts) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxSize {
			return nil
		}

		files = append(files, FileInfo{
			Path:    relPath,
			AbsPath: path,
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
		return nil
	})

	if walkErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return files, ctxErr
		}
		return files, chunkerr.Internal("ERR_DISCOVER_WALK", "directory traversal failed", walkErr)
	}
	return files, nil
}

func isHiddenName(name string) bool {
	return name != "." && strings.HasPrefix(name, ".")
}

func (w *Walker) excludedDir(relPath, absRoot string, opts Options) bool {
	base := filepath.Base(relPath)
	for _, d := range defaultExcludeDirs {
		if base == d {
			return true
		}
	}
	for _, pattern := range opts.Exclude {
		if matchGlob(pattern, relPath) {
			return true
		}
	}
	return w.ignored(relPath, true, absRoot)
}

func (w *Walker) excludedFile(relPath, absRoot string, opts Options) bool {
	base := filepath.Base(relPath)
	for _, pattern := range defaultExcludeFilePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	for _, pattern := range opts.Exclude {
		if matchGlob(pattern, relPath) {
			return true
		}
	}
	return w.ignored(relPath, false, absRoot)
}

// ignored walks from absRoot down to relPath's directory, consulting
// any .gitignore file found at each level, the same reconciliation
// order git itself uses: a deeper .gitignore can only add restrictions
// relative to its own directory.
func (w *Walker) ignored(relPath string, isDir bool, absRoot string) bool {
	if m := w.matcherFor(absRoot); m != nil && m.Match(relPath, isDir) {
		return true
	}
	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}
	currentAbs := absRoot
	currentRel := ""
	for _, part := range strings.Split(dir, "/") {
		currentAbs = filepath.Join(currentAbs, part)
		if currentRel == "" {
			currentRel = part
		} else {
			currentRel = currentRel + "/" + part
		}
		m := w.matcherFor(currentAbs)
		if m == nil {
			continue
		}
		sub := strings.TrimPrefix(relPath, currentRel+"/")
		if m.Match(sub, isDir) {
			return true
		}
	}
	return false
}

func (w *Walker) matcherFor(dir string) *gitignore.Matcher {
	if m, ok := w.ignoreCache.Get(dir); ok {
		return m
	}
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		w.ignoreCache.Add(dir, nil)
		return nil
	}
	m := gitignore.New()
	if err := m.LoadFile(path); err != nil {
		w.ignoreCache.Add(dir, nil)
		return nil
	}
	w.ignoreCache.Add(dir, m)
	return m
}

// InvalidateIgnoreCache drops every cached .gitignore matcher, forcing
// the next Discover pass to reparse them. Call this when a .gitignore
// file changes (C7 delivers a modified event for it).
func (w *Walker) InvalidateIgnoreCache() {
	w.ignoreCache.Purge()
}

func includeMatch(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchGlob(p, relPath) {
			return true
		}
	}
	return false
}

// matchGlob matches a single glob pattern against a slash-separated
// relative path, supporting the "**/" and "/**" wildcards in addition
// to plain filepath.Match globs.
func matchGlob(pattern, relPath string) bool {
	pattern = filepath.ToSlash(pattern)
	base := filepath.Base(relPath)

	switch {
	case strings.HasPrefix(pattern, "**/") && strings.HasSuffix(pattern, "/**"):
		mid := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		return relPath == mid || strings.Contains(relPath, "/"+mid+"/") || strings.HasPrefix(relPath, mid+"/")

	case strings.HasPrefix(pattern, "**/"):
		suffix := strings.TrimPrefix(pattern, "**/")
		if ok, _ := filepath.Match(suffix, base); ok {
			return true
		}
		ok, _ := filepath.Match(suffix, relPath)
		return ok

	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")

	case strings.Contains(pattern, "/"):
		ok, _ := filepath.Match(pattern, relPath)
		return ok

	default:
		ok, _ := filepath.Match(pattern, base)
		return ok
	}
}
