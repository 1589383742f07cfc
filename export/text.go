package export

import (
	"fmt"
	"io"
	"strings"
)

// Text writes a plain transcript: question, reading, synthesis, the
// per-round analysis and the node list.
func Text(w io.Writer, doc Document) error {
	var b strings.Builder
	b.WriteString("TAROT READING\n")
	fmt.Fprintf(&b, "Generated: %s\n", displayTime(doc.Timestamp))
	if doc.ReadingType != "" {
		fmt.Fprintf(&b, "Reading Type: %s\n", doc.ReadingType)
	}
	if doc.Mode != "" {
		fmt.Fprintf(&b, "Mapping Mode: %s\n", doc.Mode)
	}

	fmt.Fprintf(&b, "\nQUESTION:\n%s\n", doc.Question)
	fmt.Fprintf(&b, "\nREADING:\n%s\n", continued(doc.Reading))

	if doc.Synthesis != "" {
		fmt.Fprintf(&b, "\nSYNTHESIS:\n%s\n", doc.Synthesis)
	}

	if len(doc.Cycles) > 0 {
		b.WriteString("\nRHIZOMATIC ANALYSIS:\n")
		for _, c := range doc.Cycles {
			fmt.Fprintf(&b, "Cycle %d: %d nodes, %d connections\n", c.Round, c.NodeCount, c.EdgeCount)
			if c.Insights != "" {
				fmt.Fprintf(&b, "%s\n", c.Insights)
			}
		}
	}

	if len(doc.Nodes) > 0 {
		fmt.Fprintf(&b, "\nRHIZOMATIC NODES (%d):\n", len(doc.Nodes))
		for _, n := range doc.Nodes {
			fmt.Fprintf(&b, "- %s\n", n.Label)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
