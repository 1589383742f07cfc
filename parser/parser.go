// Package parser imports an existing reading from a file so it can be
// mapped without generating a new one.
package parser

import (
	"context"
	"strings"
)

// ParseResult is what a parser produces from a file.
type ParseResult struct {
	Sections []Section // Ordered blocks of text
	Method   string    // "native"
	Metadata map[string]string

	// Separator joins sections in Text. Empty means a blank line.
	Separator string
}

// Section is a block of text from the file: a page of a PDF, a sheet of a
// workbook, or the whole of a text file.
type Section struct {
	Heading    string
	Content    string
	PageNumber int
}

// Text joins the sections into a single narrative, one blank line between
// sections unless the parser chose a Separator.
func (r *ParseResult) Text() string {
	parts := make([]string, 0, len(r.Sections))
	for _, s := range r.Sections {
		if c := strings.TrimSpace(s.Content); c != "" {
			parts = append(parts, c)
		}
	}
	sep := r.Separator
	if sep == "" {
		sep = "\n\n"
	}
	return strings.Join(parts, sep)
}

// Parser can parse a specific file format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
