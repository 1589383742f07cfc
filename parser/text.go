package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/bbiangul/rhizome/reading"
)

// followUpLineRe matches a line marking the start of a follow-up: the raw
// separator token or the heading the text export renders it as.
var followUpLineRe = regexp.MustCompile(`(?m)^[ \t]*(?:` +
	regexp.QuoteMeta(reading.SeparatorToken) +
	`|-{3}[ \t]*Continued Exploration[ \t]*-{3})[ \t]*$`)

// TextParser handles plain text and markdown readings. A file holding a
// reading with follow-ups yields one section per part.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	res := &ParseResult{Method: "native", Separator: reading.Separator}
	for _, part := range followUpLineRe.Split(string(data), -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		heading := "Reading"
		if n := len(res.Sections); n > 0 {
			heading = "Follow-up " + strconv.Itoa(n)
		}
		res.Sections = append(res.Sections, Section{Heading: heading, Content: part})
	}
	if len(res.Sections) > 1 {
		res.Metadata = map[string]string{"follow_ups": strconv.Itoa(len(res.Sections) - 1)}
	}
	return res, nil
}
