package condition

import (
	"reflect"
	"strconv"
	"strings"

	"conversation-automation/pkg/models"
)

// Evaluate reports whether node holds for ev. It never panics; a nil node is false.
func Evaluate(node Node, ev models.Event) bool {
	if node == nil {
		return false
	}
	return node.eval(EventView(ev))
}

// EventView is the root object paths are resolved against. The legacy field
// names event_type and contact_id are kept as aliases of type and subject_id.
func EventView(ev models.Event) map[string]any {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return map[string]any{
		"id":         ev.ID,
		"tenant_id":  ev.TenantID,
		"subject_id": ev.SubjectID,
		"contact_id": ev.SubjectID,
		"type":       ev.Type,
		"event_type": ev.Type,
		"payload":    payload,
		"timestamp":  ev.Timestamp.UnixMilli(),
	}
}

// Resolve walks a dot separated path from root. Any string keyed map and any
// slice or array can be an intermediate. Missing keys, nil intermediates and
// non-container intermediates yield Undefined.
func Resolve(path string, root map[string]any) any {
	var current any = root
	for _, part := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			v, ok := c[part]
			if !ok {
				return Undefined
			}
			current = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return Undefined
			}
			current = c[idx]
		default:
			v, ok := resolveTyped(c, part)
			if !ok {
				return Undefined
			}
			current = v
		}
	}
	return current
}

func resolveTyped(container any, part string) (any, bool) {
	v := reflect.ValueOf(container)
	switch v.Kind() {
	case reflect.Map:
		keyType := v.Type().Key()
		if keyType.Kind() != reflect.String {
			return nil, false
		}
		elem := v.MapIndex(reflect.ValueOf(part).Convert(keyType))
		if !elem.IsValid() {
			return nil, false
		}
		return elem.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 || idx >= v.Len() {
			return nil, false
		}
		return v.Index(idx).Interface(), true
	default:
		return nil, false
	}
}

func (v Var) eval(root map[string]any) bool {
	val := v.resolve(root)
	if val == Undefined {
		return false
	}
	return models.Truthy(val)
}

func (v Var) resolve(root map[string]any) any {
	return Resolve(v.Path, root)
}

func (l Literal) resolve(map[string]any) any {
	return l.Value
}

func (n Eq) eval(root map[string]any) bool {
	return equal(resolveOperand(n.Left, root), resolveOperand(n.Right, root))
}

func (n Gte) eval(root map[string]any) bool {
	l, r, ok := numericPair(n.Left, n.Right, root)
	return ok && l >= r
}

func (n Lte) eval(root map[string]any) bool {
	l, r, ok := numericPair(n.Left, n.Right, root)
	return ok && l <= r
}

func (n And) eval(root map[string]any) bool {
	for _, child := range n.Nodes {
		if child == nil || !child.eval(root) {
			return false
		}
	}
	return true
}

func (n Or) eval(root map[string]any) bool {
	for _, child := range n.Nodes {
		if child != nil && child.eval(root) {
			return true
		}
	}
	return false
}

func (Invalid) eval(map[string]any) bool {
	return false
}

func resolveOperand(op Operand, root map[string]any) any {
	if op == nil {
		return Undefined
	}
	return op.resolve(root)
}

func numericPair(left, right Operand, root map[string]any) (float64, float64, bool) {
	l, ok := models.ToFloat64(resolveOperand(left, root))
	if !ok {
		return 0, 0, false
	}
	r, ok := models.ToFloat64(resolveOperand(right, root))
	if !ok {
		return 0, 0, false
	}
	return l, r, true
}

func equal(a, b any) bool {
	aUndef := a == Undefined
	bUndef := b == Undefined
	if aUndef || bUndef {
		return aUndef && bUndef
	}

	af, aNum := models.ToFloat64(a)
	bf, bNum := models.ToFloat64(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}

	return reflect.DeepEqual(a, b)
}
