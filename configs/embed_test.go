package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saagar210/AssistSupport-sub002/internal/config"
	"github.com/saagar210/AssistSupport-sub002/internal/source"
)

func TestConfigTemplate_LoadsAndValidates(t *testing.T) {
	// Given the template as a project file
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(ConfigTemplate), 0o644))

	// When loading it
	cfg, err := config.Load(dir)

	// Then it matches the built-in defaults it documents
	require.NoError(t, err)
	def := config.NewConfig()
	assert.Equal(t, def.Search, cfg.Search)
	assert.Equal(t, def.Watcher, cfg.Watcher)
	assert.Equal(t, def.Store, cfg.Store)
	assert.Equal(t, def.Chunking, cfg.Chunking)
}

func TestSourcesTemplate_Parses(t *testing.T) {
	dir := t.TempDir()

	defs, err := source.Parse([]byte(SourcesTemplate), source.FormatYAML, dir)

	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, source.TypeFolder, defs[0].Type)
	assert.Equal(t, filepath.Join(dir, "runbooks"), defs[0].Location)
	assert.Equal(t, source.TypeURLs, defs[1].Type)
	assert.Equal(t, 0.8, defs[1].Weight)
	assert.Len(t, defs[1].URLs, 2)
}
