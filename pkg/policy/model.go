package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"conversation-automation/pkg/condition"
	"conversation-automation/pkg/models"
)

// Policy maps matching events to an ordered list of actions. Condition is nil when
// the policy applies to every event of a matching type.
type Policy struct {
	EventType string
	Condition condition.Node
	Actions   []models.Action
	Priority  int
}

// document is the wire form authored by tenants
type document struct {
	EventType string          `json:"event_type" yaml:"event_type"`
	Condition any             `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions   []models.Action `json:"actions" yaml:"actions"`
	Priority  *int            `json:"priority,omitempty" yaml:"priority,omitempty"`
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	p.fromDocument(doc)
	return nil
}

func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var doc document
	if err := value.Decode(&doc); err != nil {
		return err
	}
	p.fromDocument(doc)
	return nil
}

// fromDocument never fails on a bad condition: the policy keeps an Invalid node
// that never matches, and Validate reports it.
func (p *Policy) fromDocument(doc document) {
	p.EventType = doc.EventType
	p.Actions = doc.Actions
	p.Priority = 0
	if doc.Priority != nil {
		p.Priority = *doc.Priority
	}
	p.Condition = nil
	if doc.Condition != nil {
		p.Condition, _ = condition.ParseOrInvalid(doc.Condition)
	}
}

// Validate lists problems in the policy. An empty result means the policy is well formed.
func (p Policy) Validate() []string {
	var problems []string
	if strings.TrimSpace(p.EventType) == "" {
		problems = append(problems, "event_type is required")
	} else if idx := strings.Index(p.EventType, "*"); idx >= 0 && idx != len(p.EventType)-1 {
		problems = append(problems, fmt.Sprintf("event_type %q: wildcard is only supported as a trailing *", p.EventType))
	}
	if invalid, ok := p.Condition.(condition.Invalid); ok {
		problems = append(problems, "invalid condition: "+invalid.Reason)
	}
	for i, a := range p.Actions {
		if !a.Type.Known() {
			problems = append(problems, fmt.Sprintf("action %d: unsupported type %q", i, a.Type))
		}
	}
	return problems
}

// MatchesEventType supports exact types, "*" and trailing "prefix*" patterns
func MatchesEventType(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return eventType == pattern
}
