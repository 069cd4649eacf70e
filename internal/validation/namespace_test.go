package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

func TestNormalizeNamespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"already normalized", "support-docs", "support-docs"},
		{"trim and lower", "  Support Docs  ", "support-docs"},
		{"collapse disallowed runs", "a//b..c", "a-b-c"},
		{"strip edge dashes", "--team--", "team"},
		{"keeps underscore", "kb_v2", "kb_v2"},
		{"nfkc fold", "ﬁles", "files"},
		{"accented becomes dash", "café", "caf"},
		{"only disallowed", "!!!", ""},
		{"invalid utf8", "ab\xffcd", "ab-cd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeNamespace(tt.in))
		})
	}
}

func TestNormalizeNamespace_Idempotent(t *testing.T) {
	inputs := []string{"Mixed CASE/path", "ab\xffcd", "  ---x---  ", "ＡＢＣ", "a\u0000b"}
	for _, in := range inputs {
		once := NormalizeNamespace(in)
		assert.Equal(t, once, NormalizeNamespace(once), "input %q", in)
	}
}

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", "docs", false},
		{"valid with digits", "team-42_kb", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxNamespaceLen+1), true},
		{"max length", strings.Repeat("a", MaxNamespaceLen), false},
		{"uppercase", "Docs", true},
		{"space", "my docs", true},
		{"leading dash", "-docs", true},
		{"double dash", "a--b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, kberrors.ErrCodeInvalidNamespace, kberrors.GetCode(err))
				assert.True(t, kberrors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeAndValidateNamespace(t *testing.T) {
	// Given: a messy but salvageable identifier
	ns, err := NormalizeAndValidateNamespace("  Customer Support!  ")

	// Then: it is accepted in normalized form and is a fixed point
	require.NoError(t, err)
	assert.Equal(t, "customer-support", ns)
	assert.Equal(t, ns, NormalizeNamespace(ns))

	// And: input that normalizes to nothing is rejected
	_, err = NormalizeAndValidateNamespace("   ")
	assert.Error(t, err)
}

func TestValidateTicketID(t *testing.T) {
	valid := []string{"KB-1", "SUP-12345", "abc2-7", " KB-12 ", "KB-1\n"}
	invalid := []string{"", "   ", "KB", "KB-", "-12", "KB-12a", "K B-1", "KB-1\x00", strings.Repeat("A", 40) + "-1", " " + strings.Repeat("A", 30) + "-1 "}

	for _, id := range valid {
		assert.NoError(t, ValidateTicketID(id), id)
	}
	for _, id := range invalid {
		assert.Error(t, ValidateTicketID(id), id)
	}
}

func TestNormalizeQuery(t *testing.T) {
	q, err := NormalizeQuery("  reset password  ")
	require.NoError(t, err)
	assert.Equal(t, "reset password", q)

	_, err = NormalizeQuery(" \t ")
	assert.Equal(t, kberrors.ErrCodeQueryEmpty, kberrors.GetCode(err))

	// Exactly at the bound is accepted.
	_, err = NormalizeQuery(strings.Repeat("a", MaxQueryBytes))
	assert.NoError(t, err)
}

func TestNormalizeQuery_RejectsOversized(t *testing.T) {
	// Given: a query one byte over the bound
	q := strings.Repeat("x", MaxQueryBytes+1)

	// When: validating it
	_, err := NormalizeQuery(q)

	// Then: it is rejected as too long
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeQueryTooLong, kberrors.GetCode(err))
}
