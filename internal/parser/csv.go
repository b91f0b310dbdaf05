package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

const csvRowsPerSection = 20

// CSVExtractor renders rows as Markdown tables, one "Rows a-b" section per
// batch of rows, so large sheets still get a navigable tree.
type CSVExtractor struct{}

func (p *CSVExtractor) Extract(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	var md strings.Builder
	if len(records) > 0 {
		headers := records[0]
		dataRows := records[1:]
		for i := 0; i < len(dataRows); i += csvRowsPerSection {
			end := min(i+csvRowsPerSection, len(dataRows))
			// Row numbers are 1-indexed and skip the header.
			fmt.Fprintf(&md, "## Rows %d-%d\n\n", i+2, end+1)
			writeTableRow(&md, headers)
			md.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
			for _, row := range dataRows[i:end] {
				writeTableRow(&md, row)
			}
			md.WriteString("\n")
		}
	}

	doc := parseMarkdown([]byte(md.String()), FormatCSV)
	doc.Name = filename
	doc.Title = trimExt(filename)
	return doc, nil
}

func writeTableRow(sb *strings.Builder, cells []string) {
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" " + strings.ReplaceAll(c, "|", `\|`) + " |")
	}
	sb.WriteString("\n")
}
