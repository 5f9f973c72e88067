package condition

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Operator keys of the document form, e.g. {"==": [{"var": "payload.intent"}, "sales"]}
const (
	OpVar = "var"
	OpEq  = "=="
	OpGte = ">="
	OpLte = "<="
	OpAnd = "and"
	OpOr  = "or"
)

// Parse converts a decoded JSON or YAML condition document into a Node
func Parse(raw any) (Node, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, fmt.Errorf("condition must be an object, got %T", raw)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("condition must have exactly one operator, got %v", sortedKeys(obj))
	}

	for op, arg := range obj {
		switch op {
		case OpVar:
			path, err := parsePath(arg)
			if err != nil {
				return nil, err
			}
			return Var{Path: path}, nil
		case OpEq, OpGte, OpLte:
			left, right, err := parseBinary(op, arg)
			if err != nil {
				return nil, err
			}
			switch op {
			case OpEq:
				return Eq{Left: left, Right: right}, nil
			case OpGte:
				return Gte{Left: left, Right: right}, nil
			default:
				return Lte{Left: left, Right: right}, nil
			}
		case OpAnd, OpOr:
			children, err := parseList(op, arg)
			if err != nil {
				return nil, err
			}
			if op == OpAnd {
				return And{Nodes: children}, nil
			}
			return Or{Nodes: children}, nil
		default:
			return nil, fmt.Errorf("unsupported operator %q", op)
		}
	}
	return nil, fmt.Errorf("empty condition")
}

// ParseJSON parses a condition from its JSON text
func ParseJSON(data []byte) (Node, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode condition: %w", err)
	}
	return Parse(raw)
}

// ParseOrInvalid parses raw, turning a malformed document into an Invalid node
func ParseOrInvalid(raw any) (Node, error) {
	node, err := Parse(raw)
	if err != nil {
		return Invalid{Reason: err.Error()}, err
	}
	return node, nil
}

func parseOperand(raw any) (Operand, error) {
	obj, ok := asObject(raw)
	if !ok {
		return Literal{Value: raw}, nil
	}
	arg, isVar := obj[OpVar]
	if !isVar {
		return Literal{Value: obj}, nil
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("var reference must not carry other keys, got %v", sortedKeys(obj))
	}
	path, err := parsePath(arg)
	if err != nil {
		return nil, err
	}
	return Var{Path: path}, nil
}

func parseBinary(op string, arg any) (Operand, Operand, error) {
	items, ok := arg.([]any)
	if !ok || len(items) != 2 {
		return nil, nil, fmt.Errorf("operator %q needs exactly two operands", op)
	}
	left, err := parseOperand(items[0])
	if err != nil {
		return nil, nil, fmt.Errorf("operator %q left operand: %w", op, err)
	}
	right, err := parseOperand(items[1])
	if err != nil {
		return nil, nil, fmt.Errorf("operator %q right operand: %w", op, err)
	}
	return left, right, nil
}

func parseList(op string, arg any) ([]Node, error) {
	items, ok := arg.([]any)
	if !ok {
		return nil, fmt.Errorf("operator %q needs a list of conditions", op)
	}
	out := make([]Node, 0, len(items))
	for i, item := range items {
		child, err := Parse(item)
		if err != nil {
			return nil, fmt.Errorf("operator %q item %d: %w", op, i, err)
		}
		out = append(out, child)
	}
	return out, nil
}

func parsePath(arg any) (string, error) {
	path, ok := arg.(string)
	if !ok || path == "" {
		return "", fmt.Errorf("var path must be a non-empty string")
	}
	return path, nil
}

// asObject accepts the map shapes produced by encoding/json and yaml.v3
func asObject(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = v
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
