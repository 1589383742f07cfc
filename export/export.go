// Package export renders a finished reading and its mapping as a
// downloadable artifact: plain text, JSON, a standalone HTML page or an
// Excel workbook.
package export

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/bbiangul/rhizome/graph"
	"github.com/bbiangul/rhizome/mapping"
	"github.com/bbiangul/rhizome/mentions"
	"github.com/bbiangul/rhizome/reading"
)

// ErrUnsupportedFormat is returned for an unknown format name.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// Format names an export encoding.
type Format string

const (
	FormatText Format = "txt"
	FormatJSON Format = "json"
	FormatHTML Format = "html"
	FormatXLSX Format = "xlsx"
)

// Formats lists the supported formats.
var Formats = []Format{FormatText, FormatJSON, FormatHTML, FormatXLSX}

// ParseFormat validates a format name. "text" is accepted for txt.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "text" {
		f = FormatText
	}
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Document is everything an export shows about one session.
type Document struct {
	Timestamp   time.Time
	ReadingType string
	Question    string
	Reading     string
	Synthesis   string
	Mode        string
	Nodes       []graph.Node
	Edges       []graph.Edge
	Cycles      []graph.Checkpoint
}

// FromResult builds a Document from a mapping result.
func FromResult(res *mapping.Result, readingType string, at time.Time) Document {
	d := Document{
		Timestamp:   at,
		ReadingType: readingType,
		Question:    res.Question,
		Reading:     res.Narrative,
		Synthesis:   res.Synthesis,
		Mode:        string(res.Mode),
		Nodes:       res.Graph.Nodes,
		Edges:       res.Graph.Edges,
		Cycles:      res.Checkpoints,
	}
	d.normalize()
	return d
}

func (d *Document) normalize() {
	if d.Nodes == nil {
		d.Nodes = []graph.Node{}
	}
	if d.Edges == nil {
		d.Edges = []graph.Edge{}
	}
	if d.Cycles == nil {
		d.Cycles = []graph.Checkpoint{}
	}
}

// Filename is a download name for the document in format f.
func (d Document) Filename(f Format) string {
	kind := d.ReadingType
	if kind == "" {
		kind = "reading"
	}
	return fmt.Sprintf("tarot-%s-%s.%s", kind, d.Timestamp.UTC().Format("20060102-150405"), f)
}

// Write renders doc to w in format f. The catalog is used by the HTML
// format to place card images and may be nil for the others.
func Write(w io.Writer, f Format, doc Document, catalog mentions.Catalog) error {
	switch f {
	case FormatText:
		return Text(w, doc)
	case FormatJSON:
		return JSON(w, doc)
	case FormatHTML:
		if catalog == nil {
			catalog = mentions.DefaultCatalog()
		}
		return HTML(w, doc, catalog)
	case FormatXLSX:
		return XLSX(w, doc)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// continued replaces follow-up separators with a readable divider.
func continued(narrative string) string {
	return strings.ReplaceAll(narrative, reading.SeparatorToken, "--- Continued Exploration ---")
}

func displayTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05 MST")
}
