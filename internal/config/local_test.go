package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProjectFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".aimemory-project"), []byte(content), 0o600))
}

func TestLoadProjectConfig(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "group-id: billing-service\ndisable-capture: true\n")

	cfg := LoadProjectConfig(dir)
	assert.Equal(t, "billing-service", cfg.GroupID)
	assert.True(t, cfg.DisableCapture)
}

func TestLoadProjectConfigMissingFile(t *testing.T) {
	cfg := LoadProjectConfig(t.TempDir())
	require.NotNil(t, cfg)
	assert.Empty(t, cfg.GroupID)
	assert.False(t, cfg.DisableCapture)
}

func TestLoadProjectConfigBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeProjectFile(t, dir, "group-id: [unclosed")

	cfg := LoadProjectConfig(dir)
	assert.Empty(t, cfg.GroupID)
}

func TestDetectGroupIDHonorsPin(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "group-id: pinned-name\n")
	nested := filepath.Join(root, "internal", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o700))

	assert.Equal(t, "pinned-name", DetectGroupID(nested))
}

func TestDetectGroupIDEmptyMarkerUsesDirName(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "")

	assert.Equal(t, filepath.Base(root), DetectGroupID(root))
}

func TestProjectForWithoutRoot(t *testing.T) {
	cfg := ProjectFor("")
	require.NotNil(t, cfg)
	assert.False(t, cfg.DisableCapture)
}
