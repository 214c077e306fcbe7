package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docportal/core"
)

func TestRegistry_PlainText(t *testing.T) {
	r := NewRegistry()
	text, err := r.Extract(context.Background(), []byte("Hello\r\nworld  \r\n\r\n\r\n\r\nBye"), "txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello\nworld\n\nBye", text)
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), []byte("x"), "docx")
	require.ErrorIs(t, err, core.ErrUnsupportedFormat)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRegistry_InvalidUTF8(t *testing.T) {
	r := NewRegistry()
	_, err := r.Extract(context.Background(), []byte{0xff, 0xfe, 0x00}, "text")
	assert.ErrorIs(t, err, core.ErrExtractionFailed)
}

func TestRegistry_FormatCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.Supports("HTML"))
	assert.True(t, r.Supports(" md "))
	assert.False(t, r.Supports("pdf"))
}

func TestRegistry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRegistry().Extract(ctx, []byte("x"), "text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalize_NFC(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	assert.Equal(t, "café", Normalize("café"))
}

func TestMarkdown(t *testing.T) {
	r := NewRegistry()
	src := "# Title\n\nSome **bold** and a [link](http://x).\n\n![alt text](img.png)\n"
	text, err := r.Extract(context.Background(), []byte(src), "markdown")
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nSome bold and a link.\n\nalt text", text)
}

func TestHTML(t *testing.T) {
	r := NewRegistry()
	src := `<html><head><title>T</title><style>p{}</style></head>
<body><p>First &amp; one.</p><script>alert(1)</script><p>Second   para.</p></body></html>`
	text, err := r.Extract(context.Background(), []byte(src), "html")
	require.NoError(t, err)
	assert.Equal(t, "T\n\nFirst & one.\n\nSecond para.", text)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "md", FormatFromPath("/a/b/README.MD"))
	assert.Equal(t, "html", FormatFromPath("index.html"))
	assert.Equal(t, "", FormatFromPath("noext"))
}

type upperExtractor struct{}

func (upperExtractor) Formats() []string { return []string{"upper"} }

func (upperExtractor) ExtractText(data []byte) (string, error) {
	return string(data) + "!", nil
}

func TestRegistry_ExtraExtractor(t *testing.T) {
	r := NewRegistry(upperExtractor{})
	text, err := r.Extract(context.Background(), []byte("hi"), "upper")
	require.NoError(t, err)
	assert.Equal(t, "hi!", text)
	assert.Contains(t, r.Formats(), "upper")
}
