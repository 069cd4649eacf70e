package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config lookup at an empty temp dir.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	// Given: no configuration file exists
	cfg := NewConfig()

	// Then: the fusion defaults are documented values
	assert.Equal(t, 0.6, cfg.Search.VectorWeight)
	assert.Equal(t, 0.4, cfg.Search.KeywordWeight)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, 0.5, cfg.Search.PartialCap)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)

	assert.Equal(t, 1200, cfg.Chunking.Size)
	assert.Equal(t, 150, cfg.Chunking.Overlap)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 30*time.Second, cfg.Embeddings.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Watcher.Debounce)
	assert.Contains(t, cfg.Ingest.Exclude, ".git/")
	assert.NotEmpty(t, cfg.Paths.HomeRoot)
	assert.Contains(t, cfg.Paths.DataDir, ".assistkb")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, NewConfig().Search, cfg.Search)
}

func TestLoad_ProjectFile_OverridesDefaults(t *testing.T) {
	// Given: a project config with custom chunking and durations
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), `
chunking:
  size: 800
  overlap: 100
search:
  bm25_backend: bleve
embeddings:
  timeout: 5s
watcher:
  debounce: 250ms
ingest:
  exclude: ["*.tmp"]
`)

	// When: loading configuration
	cfg, err := Load(dir)

	// Then: file values win and excludes are appended to defaults
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, "bleve", cfg.Search.BM25Backend)
	assert.Equal(t, 5*time.Second, cfg.Embeddings.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Watcher.Debounce)
	assert.Contains(t, cfg.Ingest.Exclude, "*.tmp")
	assert.Contains(t, cfg.Ingest.Exclude, ".git/")
}

func TestLoad_YmlExtension_IsRecognized(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".assistkb.yml"), "search:\n  max_results: 3\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Search.MaxResults)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), "search: [unclosed")

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestLoad_WeightsMustSumToOne(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), "search:\n  vector_weight: 0.9\n  keyword_weight: 0.9\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "must equal 1.0")
}

func TestLoad_OverlapMustBeSmallerThanSize(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), "chunking:\n  size: 100\n  overlap: 100\n")

	_, err := Load(dir)

	assert.Error(t, err)
}

func TestLoad_EnvVarsOverrideFiles(t *testing.T) {
	// Given: user config, project config and env vars all set weights
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeFile(t, filepath.Join(xdg, "assistkb", "config.yaml"), "search:\n  rrf_constant: 30\n  max_results: 7\n")
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), "search:\n  rrf_constant: 40\n")
	t.Setenv("ASSISTKB_VECTOR_WEIGHT", "0")
	t.Setenv("ASSISTKB_KEYWORD_WEIGHT", "1")
	t.Setenv("ASSISTKB_EMBEDDINGS_PROVIDER", "ollama")

	// When: loading
	cfg, err := Load(dir)

	// Then: precedence is env > project > user > defaults
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Search.RRFConstant)
	assert.Equal(t, 7, cfg.Search.MaxResults)
	assert.Equal(t, 0.0, cfg.Search.VectorWeight)
	assert.Equal(t, 1.0, cfg.Search.KeywordWeight)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
}

func TestLoad_UnknownProvider_ReturnsError(t *testing.T) {
	isolate(t)
	t.Setenv("ASSISTKB_EMBEDDINGS_PROVIDER", "mystery")

	_, err := Load("")

	assert.Error(t, err)
}

func TestGetUserConfigPath_RespectsXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "assistkb", "config.yaml"), GetUserConfigPath())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Search.MaxResults = 4
	cfg.Watcher.Debounce = time.Second

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectFileName)))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Search.MaxResults)
	assert.Equal(t, time.Second, loaded.Watcher.Debounce)
}

func TestBackupFile_KeepsNewestBackups(t *testing.T) {
	// Given: an existing config file
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "version: 1\n")

	// When: backing it up more times than MaxBackups
	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupFile(path)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	// Then: only MaxBackups remain
	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, MaxBackups)
}

func TestBackupFile_MissingFileIsNoop(t *testing.T) {
	got, err := BackupFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConfig_DerivedPaths(t *testing.T) {
	// Given a data directory
	cfg := NewConfig()
	cfg.Paths.DataDir = filepath.Join("/srv", "assistkb", "data")

	// Then the store and lock live inside it and secrets sit beside it
	assert.Equal(t, filepath.Join("/srv", "assistkb", "data", "metadata.db"), cfg.StorePath())
	assert.Equal(t, filepath.Join("/srv", "assistkb", "data", ".lock"), cfg.LockPath())
	assert.Equal(t, filepath.Join("/srv", "assistkb", "secrets.json"), cfg.SecretsPath())

	// When the secrets file is absolute
	cfg.Store.SecretsFile = filepath.Join("/etc", "assistkb", "secrets.json")

	// Then it is used as is
	assert.Equal(t, cfg.Store.SecretsFile, cfg.SecretsPath())
}

func TestLoad_StoreSettings(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ProjectFileName), "store:\n  kdf_threads: 2\n  secrets_file: keys.json\n  secrets_backend: file\n")

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, uint8(2), cfg.Store.KDFThreads)
	assert.Equal(t, "file", cfg.Store.SecretsBackend)
	assert.Equal(t, "keys.json", cfg.Store.SecretsFile)
	assert.Equal(t, 1024*64, int(cfg.Store.KDFMemoryKB))
}

func TestLoad_SecretsBackend(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "auto", cfg.Store.SecretsBackend)

	t.Setenv("ASSISTKB_SECRETS_BACKEND", "keyring")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "keyring", cfg.Store.SecretsBackend)

	t.Setenv("ASSISTKB_SECRETS_BACKEND", "vault")
	_, err = Load("")
	assert.Error(t, err)
}
