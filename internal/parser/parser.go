// Package parser extracts page text from PDFs and line/heading structure
// from Markdown. DOCX, HTML, CSV and plain text are normalised to Markdown
// lines so the tree builder only handles two shapes.
package parser

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/pageindex/internal/errs"
)

// Format is the shape of an extracted document.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "markdown"
	FormatDOCX     Format = "docx"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
	FormatText     Format = "text"
)

// Page is one physical PDF page. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Heading is a Markdown heading. Line is the 1-based line it starts on.
type Heading struct {
	Level int
	Title string
	Line  int
}

// Document is the extracted content of one source file. Paged documents
// carry Pages; everything else carries Lines and Headings.
type Document struct {
	Name     string
	Title    string
	Format   Format
	Pages    []Page
	Lines    []string
	Headings []Heading
}

// Paged reports whether node spans index pages rather than lines.
func (d *Document) Paged() bool { return d.Format == FormatPDF }

// Len returns the page count for paged documents and the line count otherwise.
func (d *Document) Len() int {
	if d.Paged() {
		return len(d.Pages)
	}
	return len(d.Lines)
}

// Extractor converts raw document bytes into a Document.
type Extractor interface {
	Extract(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".pdf":      true,
	".md":       true,
	".markdown": true,
	".docx":     true,
	".html":     true,
	".htm":      true,
	".csv":      true,
	".txt":      true,
}

// ForFile returns the appropriate extractor for a filename.
func ForFile(filename string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return &PDFExtractor{FallbackPdftotext: true}, nil
	case ".md", ".markdown":
		return &MarkdownExtractor{}, nil
	case ".docx":
		return &DOCXExtractor{}, nil
	case ".html", ".htm":
		return &HTMLExtractor{}, nil
	case ".csv":
		return &CSVExtractor{}, nil
	case ".txt":
		return &TextExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// ExtractFile opens and extracts path. Failures are reported as
// *errs.DocumentProcessingError.
func ExtractFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.DocumentProcessingError{Path: path, Err: err}
	}
	defer f.Close()
	doc, err := Extract(f, filepath.Base(path))
	if err != nil {
		var procErr *errs.DocumentProcessingError
		if errors.As(err, &procErr) {
			procErr.Path = path
		}
		return nil, err
	}
	return doc, nil
}

// Extract picks the extractor for filename and reads r. Unsupported
// formats and documents without content are *errs.DocumentProcessingError.
func Extract(r io.Reader, filename string) (*Document, error) {
	ex, err := ForFile(filename)
	if err != nil {
		return nil, &errs.DocumentProcessingError{Path: filename, Err: err}
	}
	doc, err := ex.Extract(r, filename)
	if err != nil {
		return nil, &errs.DocumentProcessingError{Path: filename, Err: err}
	}
	if doc.Len() == 0 {
		return nil, &errs.DocumentProcessingError{Path: filename, Err: fmt.Errorf("no extractable content")}
	}
	return doc, nil
}

func trimExt(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
