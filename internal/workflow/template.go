package workflow

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
)

// Template is the raw YAML shape of a built-in workflow. Instantiating a
// template produces a fresh Workflow a user can then edit independently.
type Template struct {
	Name        string               `yaml:"name"`
	Mode        string               `yaml:"mode"`
	Description string               `yaml:"description"`
	Nodes       []TemplateNode       `yaml:"nodes"`
	Connections []TemplateConnection `yaml:"connections"`
}

// TemplateNode mirrors Node with an untyped config map, which is interpreted
// through the node-type config union on instantiation.
type TemplateNode struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"node_type"`
	Name      string         `yaml:"node_name"`
	PositionX float64        `yaml:"position_x"`
	PositionY float64        `yaml:"position_y"`
	Config    map[string]any `yaml:"config"`
	Disabled  bool           `yaml:"disabled"`
}

// TemplateConnection mirrors Connection.
type TemplateConnection struct {
	ID         string `yaml:"id"`
	FromNodeID string `yaml:"from_node_id"`
	ToNodeID   string `yaml:"to_node_id"`
	Condition  string `yaml:"condition"`
}

// LoadTemplate decodes a single YAML template.
func LoadTemplate(r io.Reader) (*Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var tpl Template
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &tpl, nil
}

// Instantiate materializes the template as a new Workflow with a fresh id.
// An empty name keeps the template's display name. The result is validated
// before it is returned; a template that cannot produce a valid workflow is
// a packaging bug surfaced to the caller.
func (t *Template) Instantiate(name string) (*Workflow, error) {
	if name == "" {
		name = t.Name
	}
	w := &Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Mode:        Mode(t.Mode),
		Description: t.Description,
		Nodes:       make([]Node, 0, len(t.Nodes)),
		Connections: make([]Connection, 0, len(t.Connections)),
	}

	for _, tn := range t.Nodes {
		node := Node{
			ID:        tn.ID,
			Type:      NodeType(tn.Type),
			Name:      tn.Name,
			PositionX: tn.PositionX,
			PositionY: tn.PositionY,
			IsEnabled: !tn.Disabled,
		}
		if tn.Config == nil {
			node.Config = nodeconfig.Default(tn.Type)
		} else {
			raw, err := json.Marshal(tn.Config)
			if err != nil {
				return nil, fmt.Errorf("template %s node %s: %w", t.Name, tn.ID, err)
			}
			cfg, err := nodeconfig.Decode(tn.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("template %s node %s: %w", t.Name, tn.ID, err)
			}
			node.Config = cfg
		}
		w.Nodes = append(w.Nodes, node)
	}

	for _, tc := range t.Connections {
		w.Connections = append(w.Connections, Connection{
			ID:         tc.ID,
			FromNodeID: tc.FromNodeID,
			ToNodeID:   tc.ToNodeID,
			Condition:  tc.Condition,
		})
	}

	if err := Validate(w); err != nil {
		return nil, fmt.Errorf("template %s: %w", t.Name, err)
	}
	return w, nil
}
