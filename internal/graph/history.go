package graph

import (
	"fmt"

	"github.com/atelier-ai/atelier/internal/nodeconfig"
	"github.com/atelier-ai/atelier/internal/workflow"
)

// Undo history is a bounded command log. Each recorded command carries
// enough state to apply its inverse, so undo never needs full-graph
// snapshots and memory stays proportional to the edit, not the workflow.

type commandKind int

const (
	cmdAddNode commandKind = iota
	cmdRemoveNode
	cmdAddConnection
	cmdRemoveConnection
	cmdPatchConfig
	cmdSetEnabled
)

type command struct {
	kind commandKind

	node  *workflow.Node        // add/remove node
	conns []workflow.Connection // connections detached with a removed node
	conn  *workflow.Connection  // add/remove connection

	nodeID string
	before nodeconfig.Config // patch: prior config
	after  nodeconfig.Config // patch: applied config

	enabledBefore bool
	enabledAfter  bool
}

// record appends to the undo log and clears the redo log. Caller holds s.mu.
func (s *Store) record(cmd command) {
	s.undo = append(s.undo, cmd)
	if len(s.undo) > maxHistory {
		s.undo = s.undo[len(s.undo)-maxHistory:]
	}
	s.redo = nil
}

// Undo reverts the most recent structural mutation.
func (s *Store) Undo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	if len(s.undo) == 0 {
		return ErrNothingToUndo
	}

	cmd := s.undo[len(s.undo)-1]
	if err := s.invert(cmd); err != nil {
		return fmt.Errorf("undo: %w", err)
	}
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, cmd)
	s.dirty = true
	return nil
}

// Redo re-applies the most recently undone mutation.
func (s *Store) Redo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoWorkflow
	}
	if len(s.redo) == 0 {
		return ErrNothingToRedo
	}

	cmd := s.redo[len(s.redo)-1]
	if err := s.apply(cmd); err != nil {
		return fmt.Errorf("redo: %w", err)
	}
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, cmd)
	s.dirty = true
	return nil
}

func (s *Store) apply(cmd command) error {
	switch cmd.kind {
	case cmdAddNode:
		s.current.Nodes = append(s.current.Nodes, cloneNode(*cmd.node))
	case cmdRemoveNode:
		s.dropNode(cmd.node.ID)
	case cmdAddConnection:
		s.current.Connections = append(s.current.Connections, *cmd.conn)
	case cmdRemoveConnection:
		s.dropConnection(cmd.conn.ID)
	case cmdPatchConfig:
		node := s.current.NodeByID(cmd.nodeID)
		if node == nil {
			return fmt.Errorf("node %s: %w", cmd.nodeID, ErrNodeNotFound)
		}
		node.Config = cmd.after.Clone()
	case cmdSetEnabled:
		node := s.current.NodeByID(cmd.nodeID)
		if node == nil {
			return fmt.Errorf("node %s: %w", cmd.nodeID, ErrNodeNotFound)
		}
		node.IsEnabled = cmd.enabledAfter
	}
	return nil
}

func (s *Store) invert(cmd command) error {
	switch cmd.kind {
	case cmdAddNode:
		s.dropNode(cmd.node.ID)
	case cmdRemoveNode:
		s.current.Nodes = append(s.current.Nodes, cloneNode(*cmd.node))
		s.current.Connections = append(s.current.Connections, cmd.conns...)
	case cmdAddConnection:
		s.dropConnection(cmd.conn.ID)
	case cmdRemoveConnection:
		s.current.Connections = append(s.current.Connections, *cmd.conn)
	case cmdPatchConfig:
		node := s.current.NodeByID(cmd.nodeID)
		if node == nil {
			return fmt.Errorf("node %s: %w", cmd.nodeID, ErrNodeNotFound)
		}
		node.Config = cmd.before.Clone()
	case cmdSetEnabled:
		node := s.current.NodeByID(cmd.nodeID)
		if node == nil {
			return fmt.Errorf("node %s: %w", cmd.nodeID, ErrNodeNotFound)
		}
		node.IsEnabled = cmd.enabledBefore
	}
	return nil
}

func (s *Store) dropNode(id string) {
	nodes := s.current.Nodes[:0]
	for _, n := range s.current.Nodes {
		if n.ID != id {
			nodes = append(nodes, n)
		}
	}
	s.current.Nodes = nodes
}

func (s *Store) dropConnection(id string) {
	conns := s.current.Connections[:0]
	for _, c := range s.current.Connections {
		if c.ID != id {
			conns = append(conns, c)
		}
	}
	s.current.Connections = conns
}

func cloneNode(n workflow.Node) workflow.Node {
	out := n
	if n.Config != nil {
		out.Config = n.Config.Clone()
	}
	return out
}
