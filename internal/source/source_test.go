package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

const yamlDefs = `
sources:
  - type: folder
    location: ./runbooks
    namespace: "IT Support"
    weight: 1.5
    include: ["*.md"]
    exclude: ["drafts/"]
    owner: ignored-unknown-field
  - type: urls
    urls:
      - https://example.com/kb/vpn
    namespace: it-support
`

const tomlDefs = `
[[sources]]
type = "folder"
location = "/srv/kb"
namespace = "hr"

[[sources]]
type = "urls"
urls = ["https://example.com/policy"]
namespace = "hr"
weight = 0.5
`

func TestParse_YAML(t *testing.T) {
	// Given a YAML file with two sources and an unknown field
	defs, err := Parse([]byte(yamlDefs), FormatYAML, "/home/u/kb")

	// Then both parse, namespaces are normalized and defaults applied
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, TypeFolder, defs[0].Type)
	assert.Equal(t, filepath.Join("/home/u/kb", "runbooks"), defs[0].Location)
	assert.Equal(t, "it-support", defs[0].Namespace)
	assert.Equal(t, 1.5, defs[0].Weight)
	assert.Equal(t, []string{"*.md"}, defs[0].Include)
	assert.Equal(t, []string{"drafts/"}, defs[0].Exclude)

	assert.Equal(t, TypeURLs, defs[1].Type)
	assert.Equal(t, []string{"https://example.com/kb/vpn"}, defs[1].URLs)
	assert.Equal(t, DefaultWeight, defs[1].Weight)
}

func TestParse_TOML(t *testing.T) {
	defs, err := Parse([]byte(tomlDefs), FormatTOML, "")

	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "/srv/kb", defs[0].Location)
	assert.Equal(t, 0.5, defs[1].Weight)
}

func TestParse_MissingFieldNamesIt(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "namespace",
			doc:  "sources:\n  - type: folder\n    location: /a\n    namespace: a\n  - type: folder\n    location: /b\n",
			want: "sources[1].namespace: required field missing",
		},
		{
			name: "type",
			doc:  "sources:\n  - location: /a\n    namespace: a\n",
			want: "sources[0].type: required field missing",
		},
		{
			name: "location",
			doc:  "sources:\n  - type: folder\n    namespace: a\n",
			want: "sources[0].location: required field missing",
		},
		{
			name: "urls",
			doc:  "sources:\n  - type: urls\n    namespace: a\n",
			want: "sources[0].urls: required field missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML, "")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, kberrors.ErrCodeSourceMissingField, kberrors.GetCode(err))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown type", "sources:\n  - type: ftp\n    namespace: a\n", `unknown source type "ftp"`},
		{"http url", "sources:\n  - type: urls\n    urls: [\"http://example.com\"]\n    namespace: a\n", "sources[0].urls[0]"},
		{"bad namespace", "sources:\n  - type: folder\n    location: /a\n    namespace: \"!!!\"\n", "sources[0].namespace"},
		{"zero weight", "sources:\n  - type: folder\n    location: /a\n    namespace: a\n    weight: 0\n", "sources[0].weight"},
		{"bad include", "sources:\n  - type: folder\n    location: /a\n    namespace: a\n    include: [\"[]\"]\n", "sources[0].include"},
		{"empty", "", "no sources defined"},
		{"malformed", "sources: [", "malformed source file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML, "")

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFile_DetectsFormat(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "sources.yml")
	tml := filepath.Join(dir, "sources.toml")
	require.NoError(t, os.WriteFile(yml, []byte(yamlDefs), 0o600))
	require.NoError(t, os.WriteFile(tml, []byte(tomlDefs), 0o600))

	defs, err := ParseFiles([]string{yml, tml})

	require.NoError(t, err)
	assert.Len(t, defs, 4)
	assert.Equal(t, filepath.Join(dir, "runbooks"), defs[0].Location)
}

func TestParseFile_Errors(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "sources.json"))
	assert.Contains(t, err.Error(), "unsupported source file extension")

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	var kb *kberrors.KBError
	assert.True(t, errors.As(err, &kb))
}

func TestResolveLocation_Home(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "kb"), resolveLocation("~/kb", "/elsewhere"))
	assert.Equal(t, "/abs/path", resolveLocation("/abs/path/", "/elsewhere"))
}
