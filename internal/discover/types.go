// Package discover implements single-pass source tree traversal for
// ChunkHound: one fs.WalkDir pass that applies include/exclude
// filtering inline, instead of the naive "run N recursive globs"
// approach the spec forbids on performance grounds.
package discover

import "time"

// FileInfo describes one file surfaced by a Discover pass.
type FileInfo struct {
	Path    string // relative to Options.RootDir, slash-separated
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Options configures a Discover pass.
type Options struct {
	// RootDir is the directory to traverse. Defaults to "." when empty.
	RootDir string

	// Include patterns are glob-style; a file must match at least one
	// to be kept. Empty means "everything not excluded" (the project
	// default is []string{"**/*"}, which is equivalent).
	Include []string

	// Exclude patterns are unioned with the hard-coded system excludes
	// and every .gitignore-style file found while walking.
	Exclude []string

	// MaxFileSize bounds files by size; 0 uses DefaultMaxFileSize.
	MaxFileSize int64

	// FollowSymlinks keeps symlink entries in the result, listed under
	// the link's own path; when false (the default) they are skipped.
	// Directories reached through a symlink are never descended either way.
	FollowSymlinks bool
}

// DefaultMaxFileSize bounds files considered for indexing absent an
// explicit override.
const DefaultMaxFileSize = 10 * 1024 * 1024

// defaultExcludeDirs are always skipped regardless of configuration:
// virtual environments, version control metadata, build artifacts,
// and caches (§4.6's "hard-coded system excludes").
var defaultExcludeDirs = []string{
	"venv", ".venv", "env",
	".git", ".hg", ".svn",
	"node_modules", "vendor",
	"dist", "build", "target", "bin", "out",
	"__pycache__", ".cache", ".pytest_cache", ".mypy_cache", ".tox",
}

// defaultExcludeFilePatterns are glob patterns matched against a
// file's base name that are always skipped: lockfiles that add no
// search value, and credential-shaped files that should never be
// indexed regardless of include patterns.
var defaultExcludeFilePatterns = []string{
	"*.min.js", "*.min.css",
	"package-lock.json", "yarn.lock", "pnpm-lock.yaml", "go.sum",
	".env", ".env.*",
	"*.pem", "*.key", "*.p12", "*.pfx",
	"id_rsa", "id_dsa", "id_ecdsa", "id_ed25519",
	".netrc", ".npmrc",
}
