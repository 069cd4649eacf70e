package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// newHome returns a canonical temp home root inside a sandbox directory.
func newHome(t *testing.T) (sandbox, home string) {
	t.Helper()
	sandbox, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	home = filepath.Join(sandbox, "home")
	require.NoError(t, os.MkdirAll(home, 0o755))
	return sandbox, home
}

func TestValidateWithinHome_AcceptsPathsInside(t *testing.T) {
	_, home := newHome(t)
	require.NoError(t, os.MkdirAll(filepath.Join(home, "docs"), 0o755))

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative", "docs/guide.md", filepath.Join(home, "docs", "guide.md")},
		{"absolute", filepath.Join(home, "docs"), filepath.Join(home, "docs")},
		{"root itself", home, home},
		{"dot segments that stay inside", "docs/../docs/a.txt", filepath.Join(home, "docs", "a.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateWithinHome(tt.in, home)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateWithinHome_RejectsTraversal(t *testing.T) {
	sandbox, home := newHome(t)

	for _, in := range []string{"../outside.txt", "docs/../../x", filepath.Join(sandbox, "other"), "/etc/passwd"} {
		t.Run(in, func(t *testing.T) {
			_, err := ValidateWithinHome(in, home)
			require.Error(t, err)
			assert.Equal(t, kberrors.ErrCodePathTraversal, kberrors.GetCode(err))
		})
	}
}

func TestValidateWithinHome_TraversalRejectedEvenWithAutoCreate(t *testing.T) {
	// Given: a path escaping the home root
	sandbox, home := newHome(t)
	escape := filepath.Join("..", "escaped", "deep", "file.txt")

	// When: validating with auto-create requested
	_, err := ValidateWithinHome(escape, home, WithAutoCreate())

	// Then: it is rejected and nothing was created outside the root
	require.Error(t, err)
	assert.True(t, kberrors.IsValidation(err))
	_, statErr := os.Stat(filepath.Join(sandbox, "escaped"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestValidateWithinHome_AutoCreateMakesParents(t *testing.T) {
	_, home := newHome(t)

	got, err := ValidateWithinHome("kb/new/notes.md", home, WithAutoCreate())

	require.NoError(t, err)
	info, statErr := os.Stat(filepath.Dir(got))
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestValidateWithinHome_RejectsSymlinkEscape(t *testing.T) {
	// Given: a symlink inside home pointing outside it
	sandbox, home := newHome(t)
	outside := filepath.Join(sandbox, "secret")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.Symlink(outside, filepath.Join(home, "link")))

	// When: validating a path through the link
	_, err := ValidateWithinHome("link/file.txt", home)

	// Then: the resolved target is outside and rejected
	assert.Equal(t, kberrors.ErrCodePathTraversal, kberrors.GetCode(err))
}

func TestValidateWithinHome_RejectsSensitiveDirs(t *testing.T) {
	_, home := newHome(t)

	for _, in := range []string{".ssh/id_ed25519", ".aws", ".config/gcloud/creds.json", "Library/Keychains/login.keychain"} {
		t.Run(in, func(t *testing.T) {
			_, err := ValidateWithinHome(in, home, WithAutoCreate())
			assert.Equal(t, kberrors.ErrCodeSensitivePath, kberrors.GetCode(err))
		})
	}
	_, err := os.Stat(filepath.Join(home, ".ssh"))
	assert.True(t, os.IsNotExist(err))
}

func TestValidateWithinHome_RejectsMalformedInput(t *testing.T) {
	_, home := newHome(t)

	for _, in := range []string{"", "a\x00b", "bad\xffutf8"} {
		_, err := ValidateWithinHome(in, home)
		assert.Equal(t, kberrors.ErrCodeInvalidPath, kberrors.GetCode(err), "input %q", in)
	}

	_, err := ValidateWithinHome("a.txt", filepath.Join(home, "missing-root"))
	assert.Equal(t, kberrors.ErrCodeInvalidPath, kberrors.GetCode(err))
}
