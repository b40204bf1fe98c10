package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

// Mode selects which conversational pipeline variant handles a message.
type Mode string

const (
	ModeFlash   Mode = "flash"
	ModePro     Mode = "pro"
	ModeCodeRAG Mode = "code_rag"
)

// Valid reports whether m is one of the known pipeline modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFlash, ModePro, ModeCodeRAG:
		return true
	}
	return false
}

// NodeType enumerates the processing step kinds a workflow may contain.
type NodeType string

const (
	NodeTypeInput        NodeType = "input"
	NodeTypeRouter       NodeType = "router"
	NodeTypeRAGRetriever NodeType = "rag_retriever"
	NodeTypeLLM          NodeType = "llm"
	NodeTypeOutput       NodeType = "output"
)

// Workflow is the graph of nodes and connections defining one pipeline variant.
// Node order is a presentation hint only; execution order is determined by
// connections starting from the input node.
type Workflow struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Mode        Mode         `json:"mode"`
	Description string       `json:"description,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections"`
}

// Node is a typed processing step. PositionX/PositionY carry editor layout
// only and have no execution semantics. Disabled nodes are skipped during
// execution and their outgoing connections treated as absent.
type Node struct {
	ID        string            `json:"id"`
	Type      NodeType          `json:"node_type"`
	Name      string            `json:"node_name"`
	PositionX float64           `json:"position_x"`
	PositionY float64           `json:"position_y"`
	Config    nodeconfig.Config `json:"config"`
	IsEnabled bool              `json:"is_enabled"`
}

// Connection is a directed edge between two nodes. Condition is a display
// label naming a route; the authoritative condition lives in the source
// router node's config keyed by the same route name.
type Connection struct {
	ID         string `json:"id"`
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Condition  string `json:"condition,omitempty"`
}

// nodeAlias avoids UnmarshalJSON recursion.
type nodeAlias struct {
	ID        string          `json:"id"`
	Type      NodeType        `json:"node_type"`
	Name      string          `json:"node_name"`
	PositionX float64         `json:"position_x"`
	PositionY float64         `json:"position_y"`
	Config    json.RawMessage `json:"config"`
	IsEnabled *bool           `json:"is_enabled"`
}

// UnmarshalJSON decodes the node and interprets its config blob according to
// node_type. A missing config yields the canonical defaults for the type;
// is_enabled defaults to true when absent.
func (n *Node) UnmarshalJSON(data []byte) error {
	var alias nodeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	n.ID = alias.ID
	n.Type = alias.Type
	n.Name = alias.Name
	n.PositionX = alias.PositionX
	n.PositionY = alias.PositionY
	n.IsEnabled = alias.IsEnabled == nil || *alias.IsEnabled

	if len(alias.Config) == 0 || string(alias.Config) == "null" {
		n.Config = nodeconfig.Default(string(alias.Type))
		return nil
	}
	cfg, err := nodeconfig.Decode(string(alias.Type), alias.Config)
	if err != nil {
		return fmt.Errorf("node %s: %w", alias.ID, err)
	}
	n.Config = cfg
	return nil
}

// NodeByID returns a pointer to the node with the supplied ID, if present.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// ConnectionByID returns a pointer to the connection with the supplied ID.
func (w *Workflow) ConnectionByID(id string) *Connection {
	for i := range w.Connections {
		if w.Connections[i].ID == id {
			return &w.Connections[i]
		}
	}
	return nil
}

// InputNode returns the workflow's input node, or nil when absent.
func (w *Workflow) InputNode() *Node {
	for i := range w.Nodes {
		if w.Nodes[i].Type == NodeTypeInput {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Outgoing returns the connections leaving the given node, in stored order.
// Connections into disabled nodes are still returned; callers decide how to
// treat disabled targets.
func (w *Workflow) Outgoing(nodeID string) []Connection {
	var out []Connection
	for _, c := range w.Connections {
		if c.FromNodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// RouteConnection resolves a route name selected by a router node to the
// outgoing connection carrying that label. The second return is false when
// no outgoing connection matches, which makes the route unroutable.
func (w *Workflow) RouteConnection(nodeID, route string) (Connection, bool) {
	for _, c := range w.Connections {
		if c.FromNodeID == nodeID && c.Condition == route {
			if n := w.NodeByID(c.ToNodeID); n != nil && !n.IsEnabled {
				continue
			}
			return c, true
		}
	}
	return Connection{}, false
}
