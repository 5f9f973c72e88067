package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ActionType names one of the side effects a policy can request
type ActionType string

const (
	ActionSendMessage      ActionType = "send_message"
	ActionAssignAgent      ActionType = "assign_agent"
	ActionUpdateContact    ActionType = "update_contact"
	ActionTriggerWebhook   ActionType = "trigger_webhook"
	ActionAddLabel         ActionType = "add_label"
	ActionUpdateAttributes ActionType = "update_attributes"
)

// ActionTypes lists every supported action type in declaration order
var ActionTypes = []ActionType{
	ActionSendMessage,
	ActionAssignAgent,
	ActionUpdateContact,
	ActionTriggerWebhook,
	ActionAddLabel,
	ActionUpdateAttributes,
}

// Known reports whether t is part of the supported action set
func (t ActionType) Known() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Action is an immutable side effect request produced by policy matching
type Action struct {
	Type   ActionType     `json:"type" yaml:"type"`
	Params map[string]any `json:"params" yaml:"params"`
}

// Command is the decoded, typed form of an Action. The set of implementations is closed.
type Command interface {
	command()
}

type SendMessage struct {
	Content string
}

// AssignAgent carries a nil AgentID when the action had no usable agent_id
type AssignAgent struct {
	AgentID *int64
}

type UpdateContact struct {
	Fields map[string]any
}

type TriggerWebhook struct {
	URL     string
	Payload map[string]any
}

// AddLabel carries an empty Label when the action had no usable label
type AddLabel struct {
	Label string
}

// UpdateAttributes carries nil Attributes when the action had no attributes map
type UpdateAttributes struct {
	Attributes map[string]any
}

// Unsupported is an action whose type is not in the known set, e.g. one added by a newer config producer
type Unsupported struct {
	Type ActionType
}

func (SendMessage) command()      {}
func (AssignAgent) command()      {}
func (UpdateContact) command()    {}
func (TriggerWebhook) command()   {}
func (AddLabel) command()         {}
func (UpdateAttributes) command() {}
func (Unsupported) command()      {}

// Command decodes the loosely typed params into the command for the action type
func (a Action) Command() Command {
	switch a.Type {
	case ActionSendMessage:
		content := ""
		if v, ok := a.Params["content"]; ok && Truthy(v) {
			content = Stringify(v)
		}
		return SendMessage{Content: content}
	case ActionAddLabel:
		label := ""
		if v, ok := a.Params["label"]; ok && Truthy(v) {
			label = Stringify(v)
		}
		return AddLabel{Label: label}
	case ActionUpdateAttributes:
		attrs, _ := a.Params["attributes"].(map[string]any)
		return UpdateAttributes{Attributes: attrs}
	case ActionAssignAgent:
		var agentID *int64
		if v, ok := a.Params["agent_id"]; ok && Truthy(v) {
			if id, ok := ToInt64(v); ok {
				agentID = &id
			}
		}
		return AssignAgent{AgentID: agentID}
	case ActionUpdateContact:
		fields, ok := a.Params["fields"].(map[string]any)
		if !ok {
			fields = a.Params
		}
		return UpdateContact{Fields: fields}
	case ActionTriggerWebhook:
		url, _ := a.Params["url"].(string)
		payload, _ := a.Params["payload"].(map[string]any)
		return TriggerWebhook{URL: url, Payload: payload}
	default:
		return Unsupported{Type: a.Type}
	}
}

// Truthy follows the loose truthiness rules policy documents are written against:
// nil, false, zero numbers, NaN and the empty string are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0 && !math.IsNaN(f)
	}
	return true
}

// ToFloat64 converts any Go numeric value, including json.Number, to float64
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToInt64 converts integral numbers and numeric strings to int64
func ToInt64(v any) (int64, bool) {
	if s, ok := v.(string); ok {
		id, err := strconv.ParseInt(s, 10, 64)
		return id, err == nil
	}
	f, ok := ToFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Stringify renders a param value as message text. Scalars use their natural
// form, composite values are JSON encoded.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return fmt.Sprint(t)
	case float32, float64:
		f, _ := ToFloat64(t)
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
