package router

import "fmt"

// UnroutableError is returned when a selected route name has no
// corresponding outgoing connection and the default route is unusable too.
// It is fatal to the single routing decision, not to the workflow: callers
// surface it as a configuration problem to fix in the editor.
type UnroutableError struct {
	NodeID string
	Route  string
}

func (e *UnroutableError) Error() string {
	return fmt.Sprintf("router node %s: route '%s' has no outgoing connection", e.NodeID, e.Route)
}

// IsUnroutable reports whether err is an UnroutableError.
func IsUnroutable(err error) bool {
	_, ok := err.(*UnroutableError)
	return ok
}
