package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bbiangul/rhizome/graph"
)

// timestampLayout is an ISO-8601 UTC timestamp with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type jsonDocument struct {
	Timestamp         string      `json:"timestamp"`
	ReadingType       string      `json:"readingType"`
	Question          string      `json:"question"`
	Reading           string      `json:"reading"`
	Synthesis         string      `json:"synthesis"`
	RhizomaticMapping jsonMapping `json:"rhizomaticMapping"`
}

type jsonMapping struct {
	Mode   string             `json:"mode"`
	Nodes  []graph.Node       `json:"nodes"`
	Edges  []graph.Edge       `json:"edges"`
	Cycles []graph.Checkpoint `json:"cycles"`
}

// JSON writes the structured document, indented by two spaces.
func JSON(w io.Writer, doc Document) error {
	doc.normalize()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonDocument{
		Timestamp:   doc.Timestamp.UTC().Format(timestampLayout),
		ReadingType: doc.ReadingType,
		Question:    doc.Question,
		Reading:     doc.Reading,
		Synthesis:   doc.Synthesis,
		RhizomaticMapping: jsonMapping{
			Mode:   doc.Mode,
			Nodes:  doc.Nodes,
			Edges:  doc.Edges,
			Cycles: doc.Cycles,
		},
	})
}

// ParseJSON reads a document written by JSON.
func ParseJSON(r io.Reader) (Document, error) {
	var raw jsonDocument
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("decoding export: %w", err)
	}

	var ts time.Time
	if raw.Timestamp != "" {
		var err error
		ts, err = time.Parse(time.RFC3339Nano, raw.Timestamp)
		if err != nil {
			return Document{}, fmt.Errorf("export timestamp: %w", err)
		}
	}

	doc := Document{
		Timestamp:   ts,
		ReadingType: raw.ReadingType,
		Question:    raw.Question,
		Reading:     raw.Reading,
		Synthesis:   raw.Synthesis,
		Mode:        raw.RhizomaticMapping.Mode,
		Nodes:       raw.RhizomaticMapping.Nodes,
		Edges:       raw.RhizomaticMapping.Edges,
		Cycles:      raw.RhizomaticMapping.Cycles,
	}
	doc.normalize()
	return doc, nil
}
