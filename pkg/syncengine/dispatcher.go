package syncengine

import (
	"context"

	"conversation-automation/pkg/models"
)

// EventDispatcher hands matched actions of a logged event to the engine.
// The target conversation is read from payload.conversation_id.
type EventDispatcher struct {
	engine *Engine
}

func NewEventDispatcher(engine *Engine) *EventDispatcher {
	return &EventDispatcher{engine: engine}
}

func (d *EventDispatcher) Dispatch(ctx context.Context, ev models.Event, actions []models.Action) error {
	if len(actions) == 0 {
		return nil
	}

	conversationID, ok := ConversationID(ev)
	if !ok {
		return models.Validationf("event %d carries no usable payload.conversation_id", ev.ID)
	}
	return d.engine.ExecuteActions(ctx, ev.TenantID, conversationID, actions)
}

// ConversationID extracts a positive conversation id from the event payload
func ConversationID(ev models.Event) (int64, bool) {
	raw, ok := ev.Payload["conversation_id"]
	if !ok {
		return 0, false
	}
	id, ok := models.ToInt64(raw)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
