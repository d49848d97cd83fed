package tools

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestHTMLToText(t *testing.T) {
	src := `<html><head><title>ignored</title><style>p{}</style></head>
<body><h1>Problem 3</h1><p>Show that  x<sup>2</sup> &ge; 0</p>
<script>alert(1)</script><ul><li>for all real x</li></ul></body></html>`
	got, err := HTMLToText(src)
	require.NoError(t, err)
	assert.Equal(t, "Problem 3\nShow that x^2 ≥ 0\nfor all real x", got)

	empty, err := HTMLToText("   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExtractStatementPrefersText(t *testing.T) {
	got, err := ExtractStatement(context.Background(), Input{
		Text: "  n + 0 = n  ",
		HTML: "<p>other</p>",
	}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "n + 0 = n", got)
}

func TestExtractStatementFromHTML(t *testing.T) {
	got, err := ExtractStatement(context.Background(), Input{HTML: "<p>a<sub>n</sub> converges</p>"}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "a_n converges", got)
}

func TestExtractStatementRepairsUTF8(t *testing.T) {
	got, err := ExtractStatement(context.Background(), Input{Text: "n \xff+ 0\x00 = n"}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "n �+ 0 = n", got)
}

func TestExtractStatementEmpty(t *testing.T) {
	_, err := ExtractStatement(context.Background(), Input{Text: " \n "}, DefaultLimits())
	assert.ErrorIs(t, err, ErrEmptyStatement)

	_, err = ExtractStatement(context.Background(), Input{HTML: "<script>x</script>"}, DefaultLimits())
	assert.ErrorIs(t, err, ErrEmptyStatement)
}

func TestFileTextPlainAndDataURL(t *testing.T) {
	ctx := context.Background()
	got, err := FileText(ctx, File{DataBase64: b64("prove 1 + 1 = 2"), Filename: "goal.txt"}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "prove 1 + 1 = 2", got)

	got, err = FileText(ctx, File{DataBase64: "data:text/plain;base64," + b64("from data url")}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "from data url", got)

	got, err = FileText(ctx, File{DataBase64: b64("<html><body><p>html upload</p></body></html>")}, DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, "html upload", got)
}

func TestFileTextRejects(t *testing.T) {
	ctx := context.Background()
	_, err := FileText(ctx, File{DataBase64: "not base64!!"}, DefaultLimits())
	assert.ErrorContains(t, err, "invalid base64")

	_, err = FileText(ctx, File{DataBase64: b64(strings.Repeat("a", 100))}, Limits{MaxBytes: 10})
	assert.ErrorContains(t, err, "file too large")

	_, err = FileText(ctx, File{DataBase64: b64("\x00\x01\x02"), Filename: "blob.bin"}, DefaultLimits())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFileTextMalformedPDF(t *testing.T) {
	_, err := FileText(context.Background(), File{DataBase64: b64("%PDF-1.4\nnot really a pdf"), Filename: "x.pdf"}, DefaultLimits())
	assert.Error(t, err)
}
