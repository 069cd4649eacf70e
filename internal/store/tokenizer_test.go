package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize_LowercasesAndSplitsOnPunctuation(t *testing.T) {
	// Given text with punctuation and mixed case
	text := "Reset the VPN: open Settings, then Network."

	// When tokenized
	tokens := Tokenize(text, 2)

	// Then words are lowercased and punctuation is dropped
	assert.Equal(t, []string{"reset", "the", "vpn", "open", "settings", "then", "network"}, tokens)
}

func TestTokenize_AddsCamelCaseParts(t *testing.T) {
	tokens := Tokenize("VPNClient", 2)

	assert.Equal(t, []string{"vpnclient", "vpn", "client"}, tokens)
}

func TestTokenize_KeepsShortDigits(t *testing.T) {
	// Given a minimum length of 3
	tokens := Tokenize("error 5 on port 80 at x", 3)

	// Then short numbers survive and short words do not
	assert.Equal(t, []string{"error", "5", "port", "80"}, tokens)
}

func TestTokenize_Empty(t *testing.T) {
	assert.Empty(t, Tokenize("", 2))
	assert.Empty(t, Tokenize("  ... --- ", 2))
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"simple", []string{"simple"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCamelCase(tt.in))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"The", "of"})

	got := FilterStopWords([]string{"the", "state", "of", "art"}, stop)

	assert.Equal(t, []string{"state", "art"}, got)
}

func TestDedupe_KeepsFirstOccurrence(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, dedupe([]string{"b", "a", "b", "c", "a"}))
}
