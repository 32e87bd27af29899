package markup

import (
	"errors"
	"fmt"
	"strings"
)

// PureMutationError is raised when a pure-mode handle write is attempted.
type PureMutationError struct {
	Handle Handle
}

func (e *PureMutationError) Error() string {
	return fmt.Sprintf("cannot write %s in pure mode", e.Handle)
}

// NameCollisionError is raised for a case-insensitive collision among value or handle-alias
// bindings within one scope frame, or among handle parameters in one evaluation environment.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("name collision on %q (case-insensitive)", e.Name)
}

func (e *NameCollisionError) Is(target error) bool {
	var nc *NameCollisionError
	if errors.As(target, &nc) {
		return strings.EqualFold(e.Name, nc.Name)
	}
	return false
}

// SyntaxShapeError is raised for malformed def/each/reserved-attribute syntax.
type SyntaxShapeError struct {
	Attr string
	Msg  string
}

func (e *SyntaxShapeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Attr, e.Msg)
}

// InitShapeError is raised when init evaluates to a non-object, is declared twice, or is used
// on a bound form.
type InitShapeError struct {
	Msg string
}

func (e *InitShapeError) Error() string { return "init: " + e.Msg }

// DuplicateMarkerError is raised when two rows of one iteration expansion produce equal markers.
type DuplicateMarkerError struct {
	Marker string
}

func (e *DuplicateMarkerError) Error() string {
	return fmt.Sprintf("duplicate iteration marker %q", e.Marker)
}

// TemplateNotFoundError is raised when a use-site refers to an undefined component.
type TemplateNotFoundError struct {
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("component template %q not found", e.Name)
}

// StructuralViolation is raised for document-shape errors: multiple global-init tags, or a
// global-init appearing after a declarative root.
type StructuralViolation struct {
	Msg string
}

func (e *StructuralViolation) Error() string { return e.Msg }

// NodeError wraps an inner error with the source path and span of the node where it occurred:
// the Error() string prefixes the path, Unwrap() exposes the cause, and source span accessors
// let a host surface a caret under the offending attribute or text.
type NodeError struct {
	err    error
	path   string
	File   string
	Line   int
	Column int
	Length int
}

func newNodeError(n *Node, err error) *NodeError {
	ne := &NodeError{err: err, path: buildErrorPath(n)}
	if n != nil && !n.Span.IsZero() {
		ne.File = n.Span.File
		ne.Line = n.Span.Line
		ne.Column = n.Span.Column
		ne.Length = n.Span.Length
	}
	return ne
}

func (e *NodeError) Error() string {
	if e.path == "" {
		return e.err.Error()
	}
	return e.path + ": " + e.err.Error()
}

func (e *NodeError) Unwrap() error { return e.err }

func (e *NodeError) HasSourceLocation() bool { return e.Line > 0 && e.Column > 0 }

// buildErrorPath builds a slash-separated path from the document root to n, walking to the
// root and reversing.
func buildErrorPath(n *Node) string {
	var path []string
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Tag != "" {
			path = append(path, cur.Tag)
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return strings.Join(path, "/")
}
