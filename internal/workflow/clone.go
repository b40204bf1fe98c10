package workflow

// Clone returns a deep copy of the workflow. Node configs are cloned through
// the config union so editing a copy can never leak into the original.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	clone := *w
	clone.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		cn := n
		if n.Config != nil {
			cn.Config = n.Config.Clone()
		}
		clone.Nodes[i] = cn
	}
	clone.Connections = make([]Connection, len(w.Connections))
	copy(clone.Connections, w.Connections)
	return &clone
}
