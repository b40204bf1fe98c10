package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationIssue captures a single validation failure with a stable code
// for metrics.
type ValidationIssue struct {
	Code    string
	Message string
}

// ValidationError aggregates workflow validation failures.
type ValidationError struct {
	Issues []ValidationIssue
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "workflow validation failed"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0].Message
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Issues), strings.Join(msgs, "; "))
}

// Messages returns just the human-readable text for each issue.
func (e *ValidationError) Messages() []string {
	if e == nil {
		return nil
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.Message
	}
	return msgs
}

var allowedNodeTypes = map[NodeType]struct{}{
	NodeTypeInput:        {},
	NodeTypeRouter:       {},
	NodeTypeRAGRetriever: {},
	NodeTypeLLM:          {},
	NodeTypeOutput:       {},
}

// Validate performs structural checks and returns a ValidationError when
// problems exist. Route-name references between router conditions and
// connection labels are deliberately not cross-checked here: conditions may
// be authored before their edges exist, and an unroutable condition falls
// back to the default route at evaluation time.
func Validate(w *Workflow) error {
	if w == nil {
		return &ValidationError{Issues: []ValidationIssue{{Code: "workflow_nil", Message: "workflow is nil"}}}
	}

	var issues []ValidationIssue

	if strings.TrimSpace(w.Name) == "" {
		issues = append(issues, ValidationIssue{Code: "workflow_name_missing", Message: "workflow name is required"})
	}
	if !w.Mode.Valid() {
		issues = append(issues, ValidationIssue{Code: "workflow_mode_unknown", Message: fmt.Sprintf("unknown mode '%s'", w.Mode)})
	}

	nodes := make(map[string]*Node, len(w.Nodes))
	inputCount := 0
	for i := range w.Nodes {
		node := &w.Nodes[i]
		if strings.TrimSpace(node.ID) == "" {
			issues = append(issues, ValidationIssue{Code: "node_id_missing", Message: fmt.Sprintf("node at index %d is missing an id", i)})
			continue
		}
		if _, exists := nodes[node.ID]; exists {
			issues = append(issues, ValidationIssue{Code: "node_id_duplicate", Message: fmt.Sprintf("duplicate node id '%s'", node.ID)})
			continue
		}
		nodes[node.ID] = node
		if _, ok := allowedNodeTypes[node.Type]; !ok {
			issues = append(issues, ValidationIssue{Code: "node_type_unknown", Message: fmt.Sprintf("unknown node type '%s' at node '%s'", node.Type, node.ID)})
		}
		if node.Type == NodeTypeInput {
			inputCount++
		}
	}

	if inputCount != 1 {
		issues = append(issues, ValidationIssue{Code: "input_node_count", Message: fmt.Sprintf("workflow must have exactly one input node, found %d", inputCount)})
	}

	seenConn := make(map[string]struct{}, len(w.Connections))
	adjacency := make(map[string][]string, len(nodes))
	for i, conn := range w.Connections {
		if strings.TrimSpace(conn.ID) == "" {
			issues = append(issues, ValidationIssue{Code: "connection_id_missing", Message: fmt.Sprintf("connection at index %d is missing an id", i)})
		} else if _, dup := seenConn[conn.ID]; dup {
			issues = append(issues, ValidationIssue{Code: "connection_id_duplicate", Message: fmt.Sprintf("duplicate connection id '%s'", conn.ID)})
		} else {
			seenConn[conn.ID] = struct{}{}
		}
		if strings.TrimSpace(conn.FromNodeID) == "" || strings.TrimSpace(conn.ToNodeID) == "" {
			issues = append(issues, ValidationIssue{Code: "connection_missing_vertex", Message: fmt.Sprintf("connection at index %d must define both endpoints", i)})
			continue
		}
		if conn.FromNodeID == conn.ToNodeID {
			issues = append(issues, ValidationIssue{Code: "connection_self", Message: fmt.Sprintf("connection at index %d forms a self-cycle on node '%s'", i, conn.FromNodeID)})
		}
		if _, ok := nodes[conn.FromNodeID]; !ok {
			issues = append(issues, ValidationIssue{Code: "connection_from_unknown", Message: fmt.Sprintf("connection at index %d references unknown node '%s' in 'from_node_id'", i, conn.FromNodeID)})
			continue
		}
		if _, ok := nodes[conn.ToNodeID]; !ok {
			issues = append(issues, ValidationIssue{Code: "connection_to_unknown", Message: fmt.Sprintf("connection at index %d references unknown node '%s' in 'to_node_id'", i, conn.ToNodeID)})
			continue
		}
		adjacency[conn.FromNodeID] = append(adjacency[conn.FromNodeID], conn.ToNodeID)
	}

	if inputCount == 1 {
		if input := w.InputNode(); input != nil && !reachesOutput(w, input.ID, adjacency) {
			issues = append(issues, ValidationIssue{Code: "output_unreachable", Message: "no enabled output node is reachable from the input node"})
		}
	}

	if cycle := findCycle(adjacency); cycle != "" {
		issues = append(issues, ValidationIssue{Code: "graph_cycle", Message: fmt.Sprintf("cycle detected: %s", cycle)})
	}

	if len(issues) > 0 {
		sort.Slice(issues, func(i, j int) bool {
			if issues[i].Code == issues[j].Code {
				return issues[i].Message < issues[j].Message
			}
			return issues[i].Code < issues[j].Code
		})
		return &ValidationError{Issues: issues}
	}
	return nil
}

// reachesOutput walks the graph from start; disabled nodes block traversal
// the same way they do at execution time.
func reachesOutput(w *Workflow, start string, adjacency map[string][]string) bool {
	visited := make(map[string]bool, len(w.Nodes))
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		node := w.NodeByID(id)
		if node == nil || !node.IsEnabled {
			continue
		}
		if node.Type == NodeTypeOutput {
			return true
		}
		stack = append(stack, adjacency[id]...)
	}
	return false
}

func findCycle(adjacency map[string][]string) string {
	const (
		stateUnvisited = 0
		stateVisiting  = 1
		stateVisited   = 2
	)

	state := make(map[string]int, len(adjacency))
	stack := make([]string, 0, len(adjacency))
	var cycle string

	var dfs func(string) bool
	dfs = func(node string) bool {
		state[node] = stateVisiting
		stack = append(stack, node)

		for _, next := range adjacency[node] {
			switch state[next] {
			case stateVisiting:
				cycle = formatCycle(stack, next)
				return true
			case stateUnvisited:
				if dfs(next) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[node] = stateVisited
		return false
	}

	keys := make([]string, 0, len(adjacency))
	for node := range adjacency {
		keys = append(keys, node)
	}
	sort.Strings(keys)
	for _, node := range keys {
		if state[node] == stateUnvisited {
			if dfs(node) {
				return cycle
			}
		}
	}
	return ""
}

func formatCycle(stack []string, start string) string {
	idx := -1
	for i, n := range stack {
		if n == start {
			idx = i
			break
		}
	}
	if idx == -1 {
		return strings.Join(append(stack, start), " -> ")
	}
	cycle := append([]string(nil), stack[idx:]...)
	cycle = append(cycle, start)
	return strings.Join(cycle, " -> ")
}
