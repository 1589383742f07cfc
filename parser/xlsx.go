package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// summaryFields maps the field labels of an exported workbook's Summary
// sheet to metadata keys.
var summaryFields = map[string]string{
	"Question":     "question",
	"Reading Type": "kind",
	"Mode":         "mode",
}

// XLSXParser reads workbooks. A workbook written by the export package
// yields its Reading cell; any other workbook yields its cells row by row.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	if res := parseExportedWorkbook(f); res != nil {
		return res, nil
	}

	var sections []Section
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var content strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line != "" {
				content.WriteString(line + "\n")
			}
		}
		if content.Len() == 0 {
			continue
		}

		sections = append(sections, Section{
			Heading: sheet,
			Content: content.String(),
		})
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}

	return &ParseResult{
		Sections: sections,
		Method:   "native",
	}, nil
}

func parseExportedWorkbook(f *excelize.File) *ParseResult {
	rows, err := f.GetRows("Summary")
	if err != nil {
		return nil
	}

	meta := map[string]string{}
	var narrative string
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		if row[0] == "Reading" {
			narrative = row[1]
		}
		if key, ok := summaryFields[row[0]]; ok {
			meta[key] = row[1]
		}
	}
	if narrative == "" {
		return nil
	}

	return &ParseResult{
		Sections: []Section{{Heading: "Reading", Content: narrative}},
		Method:   "native",
		Metadata: meta,
	}
}
