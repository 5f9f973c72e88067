// Package condition implements the boolean rule language used inside policies.
//
// A condition is parsed once into a Node tree and then evaluated against events.
// Evaluation is total: unresolvable paths, mismatched types and malformed
// documents all evaluate to false instead of failing.
package condition

import (
	"fmt"
	"strings"
)

// Node is a boolean expression. The implementations in this package form a closed set.
type Node interface {
	eval(root map[string]any) bool
	fmt.Stringer
}

// Operand is a value position inside a comparison: a Literal or a Var reference
type Operand interface {
	resolve(root map[string]any) any
	fmt.Stringer
}

// UndefinedValue is the type of Undefined
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "undefined" }

// Undefined is what a path resolves to when any segment is missing. It equals only itself.
var Undefined = UndefinedValue{}

// Var resolves a dot separated path against the event view, e.g. "payload.user.name".
// Used as a Node it tests the resolved value for truthiness.
type Var struct {
	Path string
}

// Literal is a constant operand
type Literal struct {
	Value any
}

type Eq struct {
	Left, Right Operand
}

type Gte struct {
	Left, Right Operand
}

type Lte struct {
	Left, Right Operand
}

// And is true when every child is true. An empty And is true.
type And struct {
	Nodes []Node
}

// Or is true when any child is true. An empty Or is false.
type Or struct {
	Nodes []Node
}

// Invalid stands in for a condition document that failed to parse. It is always false.
type Invalid struct {
	Reason string
}

func (v Var) String() string     { return "var(" + v.Path + ")" }
func (l Literal) String() string { return fmt.Sprintf("%#v", l.Value) }
func (n Eq) String() string      { return fmt.Sprintf("(%s == %s)", n.Left, n.Right) }
func (n Gte) String() string     { return fmt.Sprintf("(%s >= %s)", n.Left, n.Right) }
func (n Lte) String() string     { return fmt.Sprintf("(%s <= %s)", n.Left, n.Right) }
func (n And) String() string     { return joinNodes("and", n.Nodes) }
func (n Or) String() string      { return joinNodes("or", n.Nodes) }
func (n Invalid) String() string { return "invalid(" + n.Reason + ")" }

func joinNodes(op string, nodes []Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			parts = append(parts, "nil")
			continue
		}
		parts = append(parts, n.String())
	}
	return op + "[" + strings.Join(parts, ", ") + "]"
}
