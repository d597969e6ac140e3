package services

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// Extraction failures come in two flavors: a format we don't handle at all,
// and a file we do handle but cannot read. Both are fatal to that document
// only and end up as its failed-status message.
var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrExtractionFailed  = errors.New("failed to extract document text")
)

// ExtractText sniffs the true file type from the bytes first (uploads lie
// about both extension and MIME type), then decodes accordingly.
// Supported: PDF, DOCX, plain text / markdown, HTML.
func ExtractText(name, mimeType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	mt := strings.ToLower(strings.TrimSpace(mimeType))

	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file %q", ErrExtractionFailed, name)
	}

	if isPDF(data) {
		return extractPDF(data)
	}
	if isZip(data) {
		if !zipHasWordDocument(data) {
			return "", fmt.Errorf("%w: zip container is not a docx (%s)", ErrUnsupportedFormat, name)
		}
		return extractDOCX(data)
	}

	// the file claims a binary format but the bytes disagree; checked before
	// the text sniff so a corrupt pdf is not ingested as garbage plain text
	if mt == "application/pdf" || ext == ".pdf" {
		return "", fmt.Errorf("%w: %q claims pdf but has no %%PDF header", ErrExtractionFailed, name)
	}
	if mt == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" || ext == ".docx" {
		return "", fmt.Errorf("%w: %q claims docx but is not a valid zip container", ErrExtractionFailed, name)
	}

	if mt == "text/html" || ext == ".html" || ext == ".htm" || looksLikeHTML(data) {
		return stripHTML(string(data)), nil
	}
	if mt == "text/plain" || ext == ".txt" || ext == ".md" || ext == ".markdown" || isProbablyText(data) {
		return normalizeWhitespace(string(data)), nil
	}

	return "", fmt.Errorf("%w: name=%s mime=%s", ErrUnsupportedFormat, name, mimeType)
}

func isPDF(b []byte) bool {
	return len(b) >= 5 && string(b[:5]) == "%PDF-"
}

func isZip(b []byte) bool {
	// ZIP local file header: PK\x03\x04
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(b[:minInt(len(b), 2048)])))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

func isProbablyText(b []byte) bool {
	// printable/whitespace bytes and no NULs
	sample := b[:minInt(len(b), 4096)]
	good := 0
	for _, c := range sample {
		if c == 0x00 {
			return false
		}
		if c == '\n' || c == '\r' || c == '\t' || (c >= 0x20 && c <= 0x7E) || c >= 0x80 {
			good++
		}
	}
	return float64(good)/float64(len(sample)) > 0.9
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf reader: %v", ErrExtractionFailed, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: pdf text: %v", ErrExtractionFailed, err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: pdf read: %v", ErrExtractionFailed, err)
	}
	text := normalizeWhitespace(string(b))
	if text == "" {
		return "", fmt.Errorf("%w: pdf contains no extractable text", ErrExtractionFailed)
	}
	return text, nil
}

func zipHasWordDocument(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// extractDOCX pulls the text runs (<w:t>) out of word/document.xml.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: docx container: %v", ErrExtractionFailed, err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("%w: docx has no word/document.xml", ErrExtractionFailed)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("%w: docx open: %v", ErrExtractionFailed, err)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return "", fmt.Errorf("%w: docx read: %v", ErrExtractionFailed, err)
	}

	var out strings.Builder
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "t" {
			continue
		}
		var v string
		_ = dec.DecodeElement(&v, &se)
		if v != "" {
			out.WriteString(v)
			out.WriteString(" ")
		}
	}

	text := normalizeWhitespace(out.String())
	if text == "" {
		return "", fmt.Errorf("%w: docx contains no extractable text", ErrExtractionFailed)
	}
	return text, nil
}

var htmlTagRe = regexp.MustCompile(`(?s)<[^>]*>`)

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return normalizeWhitespace(s)
}

func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
