// Package textextract pulls plain text out of the document formats the
// ingestion pipeline accepts: PDF, DOCX and plain text.
package textextract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Result is the text content of a document plus the page count the
// format exposes. Formats without a native page concept report 1.
type Result struct {
	Text  string
	Pages int
}

// Extract dispatches on the declared MIME type (file extensions are
// accepted as a fallback for callers that only have a name).
func Extract(data io.ReaderAt, size int64, mimeType string) (*Result, error) {
	switch normalize(mimeType) {
	case "application/pdf":
		return fromPDF(data, size)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return fromDOCX(data, size)
	case "text/plain":
		return fromPlain(data, size)
	default:
		return nil, fmt.Errorf("unsupported document type %q", mimeType)
	}
}

// Supported reports whether Extract can handle the given MIME type.
func Supported(mimeType string) bool {
	switch normalize(mimeType) {
	case "application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain":
		return true
	}
	return false
}

func normalize(mimeType string) string {
	t := strings.ToLower(strings.TrimSpace(mimeType))
	// strip parameters like "; charset=utf-8"
	if i := strings.Index(t, ";"); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case ".pdf", "pdf":
		return "application/pdf"
	case ".docx", "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt", "txt":
		return "text/plain"
	}
	return t
}

func fromPDF(data io.ReaderAt, size int64) (*Result, error) {
	reader, err := pdf.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// pages that fail text extraction still count toward Pages
			continue
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}

	return &Result{Text: sb.String(), Pages: pages}, nil
}

func fromDOCX(data io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(data, size)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	for _, f := range zr.File {
		if path.Base(f.Name) != "document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open document.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		return &Result{Text: dropTags(string(raw)), Pages: 1}, nil
	}

	return nil, fmt.Errorf("open docx: no document.xml entry")
}

func fromPlain(data io.ReaderAt, size int64) (*Result, error) {
	buf := make([]byte, size)
	if _, err := data.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &Result{Text: string(bytes.TrimSpace(buf)), Pages: 1}, nil
}

// dropTags removes XML markup and collapses whitespace. WordprocessingML
// body text lives entirely in element content, so this is enough for
// audit purposes.
func dropTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteByte(' ')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
