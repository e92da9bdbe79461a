package hikvision

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBoundary = "MIME_boundary"

func streamOf(parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString("--" + testBoundary + "\r\n")
		sb.WriteString(p)
	}
	return sb.String()
}

func partWithLength(body string) string {
	return fmt.Sprintf("Content-Type: application/xml; charset=\"UTF-8\"\r\nContent-Length: %d\r\n\r\n%s\r\n", len(body), body)
}

func partWithoutLength(body string) string {
	return "Content-Type: application/xml\r\n\r\n" + body + "\r\n"
}

func TestPartReader_ContentLengthParts(t *testing.T) {
	stream := streamOf(
		partWithLength("<a>one</a>"),
		partWithLength("<a>two</a>"),
	)
	pr, err := NewPartReader(strings.NewReader(stream), `multipart/mixed; boundary=`+testBoundary)
	require.NoError(t, err)

	hdr, body, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, "<a>one</a>", string(body))
	assert.Contains(t, hdr.Get("Content-Type"), "application/xml")

	_, body, err = pr.Next()
	require.NoError(t, err)
	assert.Equal(t, "<a>two</a>", string(body))

	_, _, err = pr.Next()
	assert.Error(t, err) // stream exhausted
}

func TestPartReader_ScanToBoundary(t *testing.T) {
	// No Content-Length: body runs until the next delimiter.
	stream := streamOf(
		partWithoutLength("<a>\nfirst\n</a>"),
		partWithLength("<b>second</b>"),
	) + "--" + testBoundary + "--\r\n"

	pr, err := NewPartReader(strings.NewReader(stream), `multipart/mixed; boundary="`+testBoundary+`"`)
	require.NoError(t, err)

	_, body, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, "<a>\nfirst\n</a>", string(body))

	_, body, err = pr.Next()
	require.NoError(t, err)
	assert.Equal(t, "<b>second</b>", string(body))

	_, _, err = pr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPartReader_PreambleIgnored(t *testing.T) {
	stream := "ignore this preamble\r\n" + streamOf(partWithLength("<x/>"))
	pr, err := NewPartReader(strings.NewReader(stream), `multipart/mixed; boundary=`+testBoundary)
	require.NoError(t, err)

	_, body, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, "<x/>", string(body))
}

func TestPartReader_LooseLineEndings(t *testing.T) {
	// Some firmwares emit bare LF.
	stream := "--" + testBoundary + "\nContent-Length: 4\n\n<x/>\n"
	pr, err := NewPartReader(strings.NewReader(stream), `multipart/mixed; boundary=`+testBoundary)
	require.NoError(t, err)

	_, body, err := pr.Next()
	require.NoError(t, err)
	assert.Equal(t, "<x/>", string(body))
}

func TestPartReader_InvalidContentLength(t *testing.T) {
	stream := "--" + testBoundary + "\r\nContent-Length: nope\r\n\r\nbody\r\n"
	pr, err := NewPartReader(strings.NewReader(stream), `multipart/mixed; boundary=`+testBoundary)
	require.NoError(t, err)

	_, _, err = pr.Next()
	assert.Error(t, err)
}

func TestPartReader_TruncatedPart(t *testing.T) {
	stream := "--" + testBoundary + "\r\nContent-Length: 100\r\n\r\nshort"
	pr, err := NewPartReader(strings.NewReader(stream), `multipart/mixed; boundary=`+testBoundary)
	require.NoError(t, err)

	_, _, err = pr.Next()
	assert.Error(t, err)
}

func TestNewPartReader_ContentTypeValidation(t *testing.T) {
	_, err := NewPartReader(strings.NewReader(""), "text/plain")
	assert.Error(t, err)

	_, err = NewPartReader(strings.NewReader(""), "multipart/mixed")
	assert.Error(t, err) // missing boundary

	_, err = NewPartReader(strings.NewReader(""), "")
	assert.Error(t, err)
}
