package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

func TestNormalizeQuery_TrimsAndAccepts(t *testing.T) {
	q, err := NormalizeQuery("  reset vpn  \n")

	require.NoError(t, err)
	assert.Equal(t, "reset vpn", q)
}

func TestNormalizeQuery_EmptyRejected(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		err := ValidateQuery(q)
		require.Error(t, err, "query %q", q)
		assert.Equal(t, kberrors.ErrCodeQueryEmpty, kberrors.GetCode(err))
	}
}

func TestNormalizeQuery_LengthBoundary(t *testing.T) {
	// Given: queries exactly at and one past the bound
	atLimit := strings.Repeat("a", MaxQueryBytes)
	overLimit := atLimit + "a"

	// Then: the bound is inclusive
	assert.NoError(t, ValidateQuery(atLimit))
	err := ValidateQuery(overLimit)
	require.Error(t, err)
	assert.True(t, kberrors.IsValidation(err))
	assert.Equal(t, kberrors.ErrCodeQueryTooLong, kberrors.GetCode(err))
}

func TestNormalizeQuery_OversizedWhitespaceStillTooLong(t *testing.T) {
	err := ValidateQuery(strings.Repeat(" ", MaxQueryBytes+1))

	assert.Equal(t, kberrors.ErrCodeQueryTooLong, kberrors.GetCode(err))
}
