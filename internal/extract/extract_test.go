package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

func TestRegistry_ForPath(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		path   string
		format string
		ok     bool
	}{
		{"notes/readme.MD", "markdown", true},
		{"kb/page.html", "html", true},
		{"kb/runbook.txt", "text", true},
		{"kb/photo.png", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, ok := r.ForPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.format, e.Format())
			}
		})
	}
}

func TestRegistry_ForContentType_IgnoresParameters(t *testing.T) {
	r := NewRegistry()

	e, ok := r.ForContentType("text/html; charset=utf-8")

	require.True(t, ok)
	assert.Equal(t, "html", e.Format())
}

func TestRegistry_ExtractPath_UnsupportedIsExtractionError(t *testing.T) {
	r := NewRegistry()

	_, err := r.ExtractPath(context.Background(), "archive.zip", []byte("PK"))

	require.Error(t, err)
	assert.True(t, kberrors.IsExtraction(err))
}

func TestRegistry_ExtractPath_BinaryIsExtractionError(t *testing.T) {
	r := NewRegistry()

	_, err := r.ExtractPath(context.Background(), "dump.txt", []byte{'a', 0, 'b'})

	require.Error(t, err)
	assert.True(t, kberrors.IsExtraction(err))
	assert.Equal(t, kberrors.ErrCodeExtractionFailed, kberrors.GetCode(err))
}

func TestRegistry_ExtractPath_CancelledContext(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ExtractPath(ctx, "a.txt", []byte("hello"))

	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeExtractTimeout, kberrors.GetCode(err))
}

func TestRegistry_ExtractPath_TitleFallsBackToFileName(t *testing.T) {
	r := NewRegistry()

	res, err := r.ExtractPath(context.Background(), "/kb/vpn_reset-guide.txt", []byte("steps"))

	require.NoError(t, err)
	assert.Equal(t, "vpn reset guide", res.Title)
	assert.Equal(t, "text", res.Format)
}

func TestPlainText_NormalizesWhitespace(t *testing.T) {
	res, err := NewPlainText().Extract(context.Background(), []byte("\uFEFFline one\r\nline   two\r\n\r\n\r\n\r\nline three  \n"))

	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n\nline three", res.Text)
}

func TestPlainText_RepairsInvalidUTF8(t *testing.T) {
	res, err := NewPlainText().Extract(context.Background(), []byte("caf\xe9 menu and a long enough tail of valid text"))

	require.NoError(t, err)
	assert.Contains(t, res.Text, "caf\uFFFD menu")
}

func TestIsBinary(t *testing.T) {
	assert.False(t, IsBinary([]byte("plain words")))
	assert.True(t, IsBinary([]byte{0x89, 'P', 'N', 'G', 0, 0}))
	assert.True(t, IsBinary([]byte{0xff, 0xfe, 0xfd, 0xfc}))
	assert.False(t, IsBinary(nil))
}
