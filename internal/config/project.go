package config

import (
	"os"
	"path/filepath"
)

// UnknownGroupID is the fallback when no project root can be found.
const UnknownGroupID = "unknown"

// Files and directories that mark a project root, in priority order.
// An explicit .aimemory-project marker beats inferred markers so users
// can pin the identity of nested repos.
var rootMarkers = []string{
	".aimemory-project",
	".git",
	"go.mod",
	"package.json",
	"pyproject.toml",
	"Cargo.toml",
}

// DetectGroupID resolves a stable project identifier from a working
// directory by walking up to the nearest project-root marker. The result
// is the base name of the root directory, unless the project pins a
// group-id in .aimemory-project. Resolution is deterministic and
// side-effect-free; unresolvable paths return UnknownGroupID.
func DetectGroupID(cwd string) string {
	root := projectRoot(cwd)
	if root == "" {
		return UnknownGroupID
	}
	if pinned := LoadProjectConfig(root).GroupID; pinned != "" {
		return pinned
	}
	return filepath.Base(root)
}

// projectRoot walks up from cwd to the nearest directory carrying a
// root marker. Empty when none is found.
func projectRoot(cwd string) string {
	if cwd == "" {
		return ""
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return ""
	}

	for dir := abs; ; dir = filepath.Dir(dir) {
		for _, marker := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}
