package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the workbook written by XLSX.
const (
	SummarySheet = "Summary"
	NodesSheet   = "Nodes"
	EdgesSheet   = "Edges"
	CyclesSheet  = "Cycles"
)

// XLSX writes a workbook with a summary sheet and one sheet each for nodes,
// edges and rounds.
func XLSX(w io.Writer, doc Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}
	for _, name := range []string{NodesSheet, EdgesSheet, CyclesSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	summary := [][]any{
		{"Field", "Value"},
		{"Generated", doc.Timestamp.UTC().Format(timestampLayout)},
		{"Reading Type", doc.ReadingType},
		{"Mode", doc.Mode},
		{"Question", doc.Question},
		{"Reading", doc.Reading},
		{"Synthesis", doc.Synthesis},
	}
	nodes := [][]any{{"ID", "Label", "Type"}}
	for _, n := range doc.Nodes {
		nodes = append(nodes, []any{string(n.ID), n.Label, string(n.Type)})
	}
	edges := [][]any{{"From", "To", "Relationship"}}
	for _, e := range doc.Edges {
		edges = append(edges, []any{string(e.From), string(e.To), e.Relationship})
	}
	cycles := [][]any{{"Cycle", "Nodes", "Connections", "Insights"}}
	for _, c := range doc.Cycles {
		cycles = append(cycles, []any{c.Round, c.NodeCount, c.EdgeCount, c.Insights})
	}

	for _, s := range []struct {
		name string
		rows [][]any
	}{
		{SummarySheet, summary},
		{NodesSheet, nodes},
		{EdgesSheet, edges},
		{CyclesSheet, cycles},
	} {
		if err := writeRows(f, s.name, s.rows); err != nil {
			return err
		}
		if err := f.SetRowStyle(s.name, 1, 1, bold); err != nil {
			return fmt.Errorf("styling %s header: %w", s.name, err)
		}
	}
	if err := f.SetColWidth(SummarySheet, "B", "B", 100); err != nil {
		return fmt.Errorf("sizing summary: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
