package syncengine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/chatwoot"
	"conversation-automation/pkg/config"
)

// MessagingClient is the per-tenant connection to the messaging platform.
// Implementations make a single attempt per call.
type MessagingClient interface {
	SendMessage(ctx context.Context, conversationID int64, content string, messageKind int, private bool) (*chatwoot.Message, error)
	UpdateConversation(ctx context.Context, conversationID int64, update chatwoot.ConversationUpdate) (*chatwoot.Conversation, error)
	AddLabels(ctx context.Context, conversationID int64, labels []string) (*chatwoot.Conversation, error)
	RemoveLabels(ctx context.Context, conversationID int64, labels []string) error
	GetConversation(ctx context.Context, conversationID int64) (*chatwoot.Conversation, error)
}

// ClientFactory builds a client from a tenant's credentials
type ClientFactory func(tenant *config.Tenant) (MessagingClient, error)

// ChatwootFactory builds REST clients with the given per-request timeout
func ChatwootFactory(timeout time.Duration, logger *logrus.Logger) ClientFactory {
	return func(tenant *config.Tenant) (MessagingClient, error) {
		return chatwoot.NewClient(chatwoot.Config{
			BaseURL:   tenant.Chatwoot.APIURL,
			APIToken:  tenant.Chatwoot.APIToken,
			AccountID: tenant.Chatwoot.AccountID,
			Timeout:   timeout,
		}, logger), nil
	}
}

// WebhookSender delivers trigger_webhook actions
type WebhookSender interface {
	Send(ctx context.Context, url string, payload any) error
}

// ContactUpdater applies update_contact actions to the contact record store
type ContactUpdater interface {
	UpdateContact(ctx context.Context, tenantID string, conversationID int64, fields map[string]any) error
}
