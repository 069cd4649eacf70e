package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTML_ExtractsReadableText(t *testing.T) {
	// Given: a page with head, script, style and comments
	src := `<!doctype html><html><head><title>VPN &amp; Remote Access</title>
<meta name="description" content="How to connect">
<style>body{color:red}</style></head>
<body><script>alert("x")</script><!-- hidden -->
<h1>Connect</h1><p>Open the <b>client</b>&nbsp;app.</p>
<ul><li>Step one</li><li>Step two</li></ul>
<table><tr><td>a</td><td>b</td></tr></table>
</body></html>`

	// When: extracting
	res, err := NewHTML().Extract(context.Background(), []byte(src))

	// Then: only visible text remains
	require.NoError(t, err)
	assert.Equal(t, "VPN & Remote Access", res.Title)
	assert.Equal(t, "How to connect", res.Metadata["description"])
	assert.Contains(t, res.Text, "Connect")
	assert.Contains(t, res.Text, "Open the client app.")
	assert.Regexp(t, `Step one\n+Step two`, res.Text)
	assert.Contains(t, res.Text, "a b")
	assert.NotContains(t, res.Text, "alert")
	assert.NotContains(t, res.Text, "color:red")
	assert.NotContains(t, res.Text, "hidden")
	assert.NotContains(t, res.Text, "<")
}

func TestHTML_NoTitle(t *testing.T) {
	res, err := NewHTML().Extract(context.Background(), []byte("<p>just text</p>"))

	require.NoError(t, err)
	assert.Empty(t, res.Title)
	assert.Equal(t, "just text", res.Text)
}
