package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// NodeType is the category a node was given when it was created. The set
// below is what the prompts ask for; models occasionally invent others and
// those are kept as-is.
type NodeType string

// Node type constants used in prompts and by the fallback parser.
const (
	NodeSymbol    NodeType = "symbol"
	NodeTheme     NodeType = "theme"
	NodeInsight   NodeType = "insight"
	NodeArchetype NodeType = "archetype"
	NodeEmotion   NodeType = "emotion"
	NodeAction    NodeType = "action"
	NodeGeneral   NodeType = "general"
)

// NodeTypes lists the node types the prompts offer to the model.
var NodeTypes = []NodeType{
	NodeSymbol, NodeTheme, NodeInsight, NodeArchetype, NodeEmotion, NodeAction,
}

// NodeID identifies a node within one graph. Models return ids as strings
// most of the time but sometimes as bare numbers or booleans, so any JSON
// scalar decodes.
type NodeID string

// UnmarshalJSON accepts any JSON value. Scalars keep their text; null,
// objects and arrays decode to the empty id.
func (id *NodeID) UnmarshalJSON(data []byte) error {
	s, err := scalarText(data)
	if err != nil {
		return err
	}
	*id = NodeID(s)
	return nil
}

// Node is a labelled vertex of the reading graph. Nodes are never edited
// after creation.
type Node struct {
	ID    NodeID   `json:"id"`
	Label string   `json:"label"`
	Type  NodeType `json:"type"`
}

// UnmarshalJSON decodes a node leniently: a badly typed field becomes text
// instead of failing the whole payload the node sits in. A non-object
// element decodes to the zero node.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    json.RawMessage `json:"id"`
		Label json.RawMessage `json:"label"`
		Type  json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return err
		}
		*n = Node{}
		return nil
	}
	var out Node
	var err error
	var id, typ string
	if id, err = scalarText(raw.ID); err != nil {
		return err
	}
	if out.Label, err = scalarText(raw.Label); err != nil {
		return err
	}
	if typ, err = scalarText(raw.Type); err != nil {
		return err
	}
	out.ID, out.Type = NodeID(id), NodeType(typ)
	*n = out
	return nil
}

// Edge links two nodes. From and To are soft references: the model does not
// guarantee that they name an existing node.
type Edge struct {
	From         NodeID `json:"from"`
	To           NodeID `json:"to"`
	Relationship string `json:"relationship"`
}

// UnmarshalJSON decodes an edge with the same leniency as Node.
func (e *Edge) UnmarshalJSON(data []byte) error {
	var raw struct {
		From         json.RawMessage `json:"from"`
		To           json.RawMessage `json:"to"`
		Relationship json.RawMessage `json:"relationship"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return err
		}
		*e = Edge{}
		return nil
	}
	from, err := scalarText(raw.From)
	if err != nil {
		return err
	}
	to, err := scalarText(raw.To)
	if err != nil {
		return err
	}
	rel, err := scalarText(raw.Relationship)
	if err != nil {
		return err
	}
	*e = Edge{From: NodeID(from), To: NodeID(to), Relationship: rel}
	return nil
}

// sequentialID returns the id the fallback parser assigns to the n-th node.
func sequentialID(n int) NodeID {
	return NodeID("node" + strconv.Itoa(n))
}

// scalarText renders a JSON scalar as text. Missing values, null, objects
// and arrays yield "".
func scalarText(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[', 'n':
		return "", nil
	case 't', 'f':
		return string(data), nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return "", fmt.Errorf("graph: invalid scalar %s: %w", data, err)
	}
	return num.String(), nil
}
