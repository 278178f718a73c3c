// Package gitignore implements a small subset of .gitignore pattern
// matching shared by file discovery (C6) and the file watcher (C7), so
// both components see the same exclude set.
package gitignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Matcher holds a set of gitignore-style patterns and answers whether a
// given relative path is excluded.
type Matcher struct {
	patterns []pattern
}

type pattern struct {
	raw       string
	negate    bool
	dirOnly   bool
	anchored  bool
	segments  []string
}

// New returns an empty matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds a single gitignore-style pattern line.
func (m *Matcher) AddPattern(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	p := pattern{raw: line}
	if strings.HasPrefix(line, "!") {
		p.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.Contains(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	p.segments = strings.Split(line, "/")
	m.patterns = append(m.patterns, p)
}

// LoadFile reads a .gitignore-style file and adds every pattern line.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.AddPattern(scanner.Text())
	}
	return scanner.Err()
}

// Match reports whether relPath (slash-separated, relative to the
// directory the patterns were loaded from) is excluded. isDir indicates
// whether relPath names a directory.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	excluded := false
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matchPattern(p, relPath) {
			excluded = !p.negate
		}
	}
	return excluded
}

func matchPattern(p pattern, relPath string) bool {
	name := relPath
	if p.anchored {
		ok, _ := filepath.Match(strings.Join(p.segments, "/"), relPath)
		if ok {
			return true
		}
		return false
	}
	// Unanchored: match against the base name or any path segment.
	for _, seg := range strings.Split(relPath, "/") {
		if ok, _ := filepath.Match(strings.Join(p.segments, "/"), seg); ok {
			return true
		}
	}
	base := filepath.Base(name)
	ok, _ := filepath.Match(strings.Join(p.segments, "/"), base)
	return ok
}

// DiffPatterns returns the patterns present in newContent but absent
// from oldContent, and vice versa. Used to cheaply reconcile the index
// when a .gitignore file changes without a full rescan.
func DiffPatterns(oldContent, newContent string) (added, removed []string) {
	oldSet := lineSet(oldContent)
	newSet := lineSet(newContent)
	for line := range newSet {
		if !oldSet[line] {
			added = append(added, line)
		}
	}
	for line := range oldSet {
		if !newSet[line] {
			removed = append(removed, line)
		}
	}
	return added, removed
}

func lineSet(content string) map[string]bool {
	set := make(map[string]bool)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = true
	}
	return set
}
