package policy

import (
	"sort"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/condition"
	"conversation-automation/pkg/models"
)

// Evaluator decides whether a policy condition holds for an event
type Evaluator func(node condition.Node, ev models.Event) bool

type Matcher struct {
	eval   Evaluator
	logger *logrus.Logger
}

type MatcherOption func(*Matcher)

func WithEvaluator(eval Evaluator) MatcherOption {
	return func(m *Matcher) {
		m.eval = eval
	}
}

func NewMatcher(logger *logrus.Logger, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		eval:   condition.Evaluate,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match selects the policies that apply to ev, orders them by priority (highest
// first, ties keep list order) and concatenates their actions.
func (m *Matcher) Match(ev models.Event, policies []Policy) []models.Action {
	matched := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if m.applies(ev, p) {
			matched = append(matched, p)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	actions := []models.Action{}
	for _, p := range matched {
		actions = append(actions, p.Actions...)
	}

	m.logger.WithFields(logrus.Fields{
		"tenant_id":        ev.TenantID,
		"event_type":       ev.Type,
		"matched_policies": len(matched),
		"actions":          len(actions),
	}).Debug("Policy matching completed")

	return actions
}

func (m *Matcher) applies(ev models.Event, p Policy) bool {
	if !MatchesEventType(p.EventType, ev.Type) {
		return false
	}
	if p.Condition == nil {
		return true
	}
	return m.eval(p.Condition, ev)
}
