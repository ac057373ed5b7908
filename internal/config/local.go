package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is the optional per-project override file: a YAML
// .aimemory-project at the project root. It pins the project's memory
// identity and capture behavior independently of the global config.
type ProjectConfig struct {
	// GroupID pins the group id instead of deriving it from the root
	// directory name. Useful when a repo is checked out under different
	// names on different machines.
	GroupID string `yaml:"group-id"`

	// DisableCapture turns off conversation capture for this project
	// (retrieval still works).
	DisableCapture bool `yaml:"disable-capture"`
}

// LoadProjectConfig reads .aimemory-project from the given directory.
// Returns an empty config (not nil) when the file is missing or
// unparseable; an empty marker file is a valid way to pin a project
// root without overriding anything.
func LoadProjectConfig(dir string) *ProjectConfig {
	data, err := os.ReadFile(filepath.Join(dir, ".aimemory-project"))
	if err != nil {
		return &ProjectConfig{}
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &ProjectConfig{}
	}
	return &cfg
}

// ProjectFor walks up from cwd to the project root and returns its
// override config. Missing root or marker yields an empty config.
func ProjectFor(cwd string) *ProjectConfig {
	root := projectRoot(cwd)
	if root == "" {
		return &ProjectConfig{}
	}
	return LoadProjectConfig(root)
}
