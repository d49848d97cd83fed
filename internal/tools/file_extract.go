// Package tools turns the different statement inputs (plain text, HTML, uploaded files)
// into the single free-text statement the prover works on.
package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyStatement = errors.New("statement is empty")
	ErrUnsupported    = errors.New("unsupported file type; provide PDF, HTML or text")
)

// File is an uploaded statement document.
type File struct {
	// DataBase64 may be a data: URL.
	DataBase64  string `json:"data_base64"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Input carries the alternative statement sources of a prove request. The first non-empty
// source in the order Text, HTML, File wins.
type Input struct {
	Text string
	HTML string
	File *File
}

type Limits struct {
	MaxBytes int
	MaxPages int
}

func DefaultLimits() Limits { return Limits{MaxBytes: 20 << 20, MaxPages: 20} }

// ExtractStatement resolves in to a trimmed, valid UTF-8 statement.
func ExtractStatement(ctx context.Context, in Input, lim Limits) (string, error) {
	var (
		text string
		err  error
	)
	switch {
	case strings.TrimSpace(in.Text) != "":
		text = in.Text
	case strings.TrimSpace(in.HTML) != "":
		text, err = HTMLToText(in.HTML)
	case in.File != nil && in.File.DataBase64 != "":
		text, err = FileText(ctx, *in.File, lim)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(strings.ToValidUTF8(text, "\uFFFD"))
	text = strings.ReplaceAll(text, "\x00", "")
	if text == "" {
		return "", ErrEmptyStatement
	}
	return text, nil
}

// FileText decodes f and extracts its text by sniffing PDF and HTML, falling back to
// text for textual extensions and content types.
func FileText(ctx context.Context, f File, lim Limits) (string, error) {
	b64 := f.DataBase64
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	buf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	if lim.MaxBytes > 0 && len(buf) > lim.MaxBytes {
		return "", fmt.Errorf("file too large: %d bytes > limit %d", len(buf), lim.MaxBytes)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(f.Filename), "."))
	ctype := strings.ToLower(f.ContentType)

	if bytesHasPrefix(buf, "%PDF-") || ext == "pdf" || strings.Contains(ctype, "pdf") {
		return PDFText(ctx, buf, lim.MaxPages)
	}

	looksHTML := ext == "html" || ext == "htm" || strings.Contains(ctype, "html")
	if !looksHTML {
		head := strings.ToLower(string(buf[:min(len(buf), 1024)]))
		looksHTML = strings.Contains(head, "<html") || strings.Contains(head, "<body")
	}
	if looksHTML {
		return HTMLToText(string(buf))
	}

	switch ext {
	case "txt", "md", "markdown", "tex", "lean":
		return string(buf), nil
	}
	if strings.HasPrefix(ctype, "text/") || (ext == "" && ctype == "" && isText(buf)) {
		return string(buf), nil
	}
	return "", ErrUnsupported
}

func bytesHasPrefix(b []byte, prefix string) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == prefix
}

// isText treats content without NUL bytes in its first KiB as text.
func isText(b []byte) bool {
	for _, c := range b[:min(len(b), 1024)] {
		if c == 0 {
			return false
		}
	}
	return true
}
