package graph

import "strings"

const (
	// MaxFallbackNodes caps how many nodes ParseNodesFromText produces.
	MaxFallbackNodes = 12

	// MaxFallbackLabel is the label length, in runes, of a fallback node.
	MaxFallbackLabel = 50
)

// ParseNodesFromText turns free text into nodes, one per line, for
// responses that ignored the request to answer in JSON. Blank lines and
// lines containing a brace are skipped. Labels are truncated to
// MaxFallbackLabel runes and every node gets type general.
func ParseNodesFromText(text string) []Node {
	nodes := make([]Node, 0, MaxFallbackNodes)
	for _, line := range strings.Split(text, "\n") {
		if len(nodes) == MaxFallbackNodes {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.ContainsAny(trimmed, "{}") {
			continue
		}
		nodes = append(nodes, Node{
			ID:    sequentialID(len(nodes) + 1),
			Label: truncateRunes(trimmed, MaxFallbackLabel),
			Type:  NodeGeneral,
		})
	}
	return nodes
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
