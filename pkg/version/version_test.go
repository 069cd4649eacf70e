package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`), Version)
}

func TestString(t *testing.T) {
	s := String()

	assert.True(t, strings.HasPrefix(s, "assistkb "+Version))
	assert.Contains(t, s, Commit)
	assert.Contains(t, s, GoVersion)
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	// Given the build information
	info := GetInfo()

	// When it is encoded
	data, err := json.Marshal(info)
	require.NoError(t, err)

	// Then every field is present under its snake_case key
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Version, decoded["version"])
	assert.Equal(t, runtime.GOOS, decoded["os"])
	assert.Equal(t, runtime.GOARCH, decoded["arch"])
	assert.Equal(t, runtime.Version(), decoded["go_version"])
	assert.Contains(t, decoded, "commit")
	assert.Contains(t, decoded, "date")
}
