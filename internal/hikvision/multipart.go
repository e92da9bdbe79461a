package hikvision

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strconv"
	"strings"
)

// PartReader consumes a multipart/mixed alert stream one part at a time.
//
// Hikvision firmwares are loose about RFC 2046 framing (inconsistent CRLF
// discipline, occasional preamble noise), so this scans for boundary lines
// directly instead of using mime/multipart. Parts carrying a Content-Length
// header are read exactly; others are read up to the next boundary.
type PartReader struct {
	r        *bufio.Reader
	boundary []byte

	// atBoundary is set when the previous body scan already consumed the
	// delimiter of the following part.
	atBoundary bool
}

// NewPartReader validates the Content-Type header and prepares a reader over
// the response body.
func NewPartReader(body io.Reader, contentType string) (*PartReader, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("content type %q is not multipart", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("content type %q has no boundary", contentType)
	}
	return &PartReader{
		r:        bufio.NewReader(body),
		boundary: []byte("--" + boundary),
	}, nil
}

// Next returns the headers and body of the next part. It returns io.EOF on
// the closing delimiter and the underlying read error when the transport
// drops.
func (pr *PartReader) Next() (textproto.MIMEHeader, []byte, error) {
	if !pr.atBoundary {
		for {
			line, err := pr.readLine()
			if err != nil {
				return nil, nil, err
			}
			if done, ok := pr.isBoundary(line); ok {
				if done {
					return nil, nil, io.EOF
				}
				break
			}
		}
	}
	pr.atBoundary = false

	header := textproto.MIMEHeader{}
	for {
		line, err := pr.readLine()
		if err != nil {
			return nil, nil, err
		}
		if len(line) == 0 {
			break
		}
		key, value, ok := strings.Cut(string(line), ":")
		if !ok {
			continue
		}
		header.Add(textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key)), strings.TrimSpace(value))
	}

	if cl := header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, nil, fmt.Errorf("part has invalid Content-Length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(pr.r, body); err != nil {
			return nil, nil, err
		}
		return header, bytes.TrimSpace(body), nil
	}

	// No Content-Length: accumulate lines until the next delimiter.
	var body bytes.Buffer
	for {
		line, err := pr.readLine()
		if err != nil {
			// A transport drop mid-part loses the part.
			return nil, nil, err
		}
		if done, ok := pr.isBoundary(line); ok {
			if done {
				// Closing delimiter terminates the stream after this part.
				return header, bytes.TrimSpace(body.Bytes()), nil
			}
			pr.atBoundary = true
			return header, bytes.TrimSpace(body.Bytes()), nil
		}
		body.Write(line)
		body.WriteByte('\n')
	}
}

// isBoundary reports whether line is a delimiter, and whether it is the
// closing one.
func (pr *PartReader) isBoundary(line []byte) (closing, ok bool) {
	if !bytes.HasPrefix(line, pr.boundary) {
		return false, false
	}
	rest := bytes.TrimSpace(line[len(pr.boundary):])
	return bytes.Equal(rest, []byte("--")), true
}

func (pr *PartReader) readLine() ([]byte, error) {
	line, err := pr.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			// Final unterminated line still counts.
			return bytes.TrimRight(line, "\r\n"), nil
		}
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}
