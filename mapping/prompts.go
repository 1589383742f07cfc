package mapping

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bbiangul/rhizome/graph"
)

const extractionSystemPrompt = `You are analyzing a tarot reading to extract key symbolic nodes for rhizomatic mapping.

Extract 8-12 distinct nodes from the reading. Each node should be:
- A key symbol, theme, insight, or archetypal pattern
- Brief (2-5 words)
- Conceptually distinct from the other nodes

IMPORTANT: Respond ONLY with valid JSON, no other text.

Format:
{
  "nodes": [
    {"id": "node1", "label": "Shadow Integration", "type": "insight"},
    {"id": "node2", "label": "Creative Renewal", "type": "theme"}
  ]
}

Node types: %s`

const extractionUserPrompt = `Extract initial nodes from this reading:

%s

%s

Return ONLY the JSON, no explanation or preamble.`

const (
	chaosExtractionHint   = "Feel free to add symbolic connections beyond what's explicitly stated."
	controlExtractionHint = "Only extract nodes directly derived from the reading."
)

const roundSystemPrompt = `You are conducting cycle %d of rhizomatic analysis on tarot reading insights.

Current nodes: %s

For this cycle:
1. Identify new connections between nodes
2. %s
%s
IMPORTANT: Return ONLY valid JSON, no other text.

Format:
{
  "edges": [{"from": "node1", "to": "node2", "relationship": "description"}],
  "newNodes": [{"id": "nodeX", "label": "New Concept", "type": "insight"}],
  "insights": "Key patterns discovered this cycle..."
}`

const roundUserPrompt = `Perform cycle %d analysis. Analyze the current nodes and generate connections, patterns, and insights as specified. Return ONLY the JSON response, no explanation.`

const chaosRoundHint = "Add 2-3 new nodes that expand the symbolic network.\n"

const synthesisSystemPrompt = `You are creating a final synthesis of the rhizomatic tarot reading analysis.

Original question: %s
Reading content: %s
Nodes discovered: %d
Connections mapped: %d
Cycle insights: %s

Create a comprehensive synthesis that includes:
1. Core patterns and themes identified
2. Key symbolic clusters
3. Practical applications and next steps
4. Integration with the original question
5. Emergent insights from the mapping process

Write in a clear, insightful, and actionable style.`

const synthesisUserPrompt = `Please create the final synthesis integrating all insights from the reading and rhizomatic mapping process.`

// round describes the sub-goal of one enrichment round.
type round struct {
	goal        string
	description string
}

var rounds = []round{
	{goal: "Find obvious thematic links", description: "Identifying primary connections and patterns..."},
	{goal: "Explore symbolic resonances", description: "Discovering deeper symbolic relationships..."},
	{goal: "Discover emergent patterns", description: "Exploring emergent themes and resonances..."},
	{goal: "Connect to practical applications", description: "Synthesizing insights and practical applications..."},
}

// roundFor returns the sub-goal for round n (1-based). Runs configured with
// more than four rounds repeat the last goal.
func roundFor(n int) round {
	if n < 1 {
		n = 1
	}
	if n > len(rounds) {
		n = len(rounds)
	}
	return rounds[n-1]
}

// RoundDescription is a one-line progress message for round n.
func RoundDescription(n int) string {
	return roundFor(n).description
}

func buildExtractionPrompts(narrative string, mode Mode) (system, user string) {
	types := make([]string, len(graph.NodeTypes))
	for i, t := range graph.NodeTypes {
		types[i] = string(t)
	}
	hint := controlExtractionHint
	if mode == ModeChaos {
		hint = chaosExtractionHint
	}
	return fmt.Sprintf(extractionSystemPrompt, strings.Join(types, ", ")),
		fmt.Sprintf(extractionUserPrompt, narrative, hint)
}

func buildRoundPrompts(n int, nodes []graph.Node, mode Mode) (system, user string) {
	if nodes == nil {
		nodes = []graph.Node{}
	}
	// Nodes hold only strings, so Marshal cannot fail.
	nodesJSON, _ := json.Marshal(nodes)

	var invent string
	if mode == ModeChaos && n > 2 {
		invent = "\n" + chaosRoundHint
	}
	return fmt.Sprintf(roundSystemPrompt, n, nodesJSON, roundFor(n).goal, invent),
		fmt.Sprintf(roundUserPrompt, n)
}

func buildSynthesisPrompts(question, narrative string, state graph.State, checkpoints []graph.Checkpoint) (system, user string) {
	if checkpoints == nil {
		checkpoints = []graph.Checkpoint{}
	}
	// Checkpoints hold only plain fields, so Marshal cannot fail.
	cyclesJSON, _ := json.Marshal(checkpoints)
	return fmt.Sprintf(synthesisSystemPrompt, question, narrative, len(state.Nodes), len(state.Edges), cyclesJSON),
		synthesisUserPrompt
}
