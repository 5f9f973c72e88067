package models

import "time"

// Event is an immutable fact about a conversation submitted to the pipeline
type Event struct {
	ID        int64          `json:"id"`
	TenantID  string         `json:"tenant_id"`
	SubjectID int64          `json:"subject_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventFilter narrows an event query. Set fields are ANDed; the zero value matches everything.
type EventFilter struct {
	SubjectID *int64     `json:"subject_id,omitempty"`
	Type      string     `json:"type,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}

// Matches reports whether the event satisfies every set field of the filter
func (f EventFilter) Matches(ev Event) bool {
	if f.SubjectID != nil && ev.SubjectID != *f.SubjectID {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.From != nil && ev.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && ev.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// ClonePayload deep copies nested maps and lists. Other values are shared.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return ClonePayload(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// PersistKind is the kind of effect held by an execution plan persist entry
type PersistKind string

const (
	PersistMessage   PersistKind = "message"
	PersistAttribute PersistKind = "attribute"
	PersistLabel     PersistKind = "label"
)

// Valid reports whether k is one of the known persist kinds
func (k PersistKind) Valid() bool {
	switch k {
	case PersistMessage, PersistAttribute, PersistLabel:
		return true
	}
	return false
}

// PersistEntry is a single pre-resolved effect keyed inside an execution plan
type PersistEntry struct {
	Kind  PersistKind `json:"kind" yaml:"kind"`
	Value any         `json:"value" yaml:"value"`
}

// LabelDelta lists labels to add to and remove from a conversation
type LabelDelta struct {
	Add    []string `json:"add" yaml:"add"`
	Remove []string `json:"remove" yaml:"remove"`
}

// ExecutionPlan is a pre-resolved batch of desired side effects for one conversation
type ExecutionPlan struct {
	Persist           map[string]PersistEntry `json:"persist" yaml:"persist"`
	Labels            LabelDelta              `json:"labels" yaml:"labels"`
	ContactAttributes map[string]any          `json:"contact_attributes" yaml:"contact_attributes"`
	EmitEvents        []string                `json:"emit_events" yaml:"emit_events"`
}

// SyncResult reports what a sync call applied. Errors accumulate instead of aborting the call.
type SyncResult struct {
	MessagesSent      int      `json:"messages_sent"`
	LabelsUpdated     int      `json:"labels_updated"`
	AttributesUpdated int      `json:"attributes_updated"`
	EventsEmitted     int      `json:"events_emitted,omitempty"`
	Errors            []string `json:"errors"`
}

// AddError appends a human readable failure to the result
func (r *SyncResult) AddError(prefix string, err error) {
	r.Errors = append(r.Errors, prefix+": "+err.Error())
}
