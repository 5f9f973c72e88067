package syncengine

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/chatwoot"
	"conversation-automation/pkg/constants"
	"conversation-automation/pkg/models"
)

var errSkipped = errors.New("action skipped")

// ExecuteActions applies actions in order. A failing action is logged and the
// rest still run; only tenant resolution failure is returned.
func (e *Engine) ExecuteActions(ctx context.Context, tenantID string, conversationID int64, actions []models.Action) error {
	client, err := e.client(ctx, tenantID)
	if err != nil {
		return err
	}

	for _, action := range actions {
		log := e.logger.WithFields(logrus.Fields{
			"tenant_id":       tenantID,
			"conversation_id": conversationID,
			"action":          action.Type,
		})

		err := e.execute(ctx, client, tenantID, conversationID, action)
		switch {
		case err == nil:
			e.observeAction(action.Type, "success")
		case errors.Is(err, errSkipped):
			e.observeAction(action.Type, "skipped")
		default:
			e.observeAction(action.Type, "failure")
			log.WithError(err).Error("Failed to execute action")
		}
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, client MessagingClient, tenantID string, conversationID int64, action models.Action) error {
	log := e.logger.WithFields(logrus.Fields{
		"tenant_id":       tenantID,
		"conversation_id": conversationID,
		"action":          action.Type,
	})

	switch cmd := action.Command().(type) {
	case models.SendMessage:
		return e.retrier.Run(ctx, "send_message", func(ctx context.Context) error {
			_, err := client.SendMessage(ctx, conversationID, cmd.Content, constants.MessageKindOutgoing, false)
			return err
		})

	case models.AddLabel:
		if cmd.Label == "" {
			return errSkipped
		}
		return e.retrier.Run(ctx, "add_labels", func(ctx context.Context) error {
			_, err := client.AddLabels(ctx, conversationID, []string{cmd.Label})
			return err
		})

	case models.UpdateAttributes:
		if cmd.Attributes == nil {
			return errSkipped
		}
		return e.retrier.Run(ctx, "update_attributes", func(ctx context.Context) error {
			_, err := client.UpdateConversation(ctx, conversationID, chatwoot.ConversationUpdate{CustomAttributes: cmd.Attributes})
			return err
		})

	case models.AssignAgent:
		if cmd.AgentID == nil {
			return errSkipped
		}
		return e.retrier.Run(ctx, "assign_agent", func(ctx context.Context) error {
			_, err := client.UpdateConversation(ctx, conversationID, chatwoot.ConversationUpdate{AssigneeID: cmd.AgentID})
			return err
		})

	case models.TriggerWebhook:
		if cmd.URL == "" || e.webhooks == nil {
			log.WithField("has_sender", e.webhooks != nil).Info("Webhook action not delivered")
			return errSkipped
		}
		return e.retrier.Run(ctx, "trigger_webhook", func(ctx context.Context) error {
			return e.webhooks.Send(ctx, cmd.URL, cmd.Payload)
		})

	case models.UpdateContact:
		if e.contacts == nil {
			log.WithField("fields", cmd.Fields).Info("No contact updater configured")
			return errSkipped
		}
		return e.retrier.Run(ctx, "update_contact", func(ctx context.Context) error {
			return e.contacts.UpdateContact(ctx, tenantID, conversationID, cmd.Fields)
		})

	case models.Unsupported:
		log.Warn("Unsupported action type")
		return errSkipped
	}

	return errSkipped
}

func (e *Engine) observeAction(actionType models.ActionType, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActionsDispatched.WithLabelValues(string(actionType), status).Inc()
}
