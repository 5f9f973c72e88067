// Package chatwoot is a REST client for a Chatwoot-compatible messaging platform.
// It performs single attempts; callers own retries.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/constants"
	"conversation-automation/pkg/models"
)

type Config struct {
	BaseURL   string
	APIToken  string
	AccountID int64
	Timeout   time.Duration
}

type Message struct {
	ID             int64  `json:"id"`
	Content        string `json:"content"`
	MessageType    int    `json:"message_type"`
	CreatedAt      int64  `json:"created_at"`
	ConversationID int64  `json:"conversation_id"`
}

type Conversation struct {
	ID               int64          `json:"id"`
	Status           string         `json:"status"`
	Labels           []string       `json:"labels"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// ConversationUpdate carries the fields of a PATCH; nil and empty fields are omitted
type ConversationUpdate struct {
	Status           string         `json:"status,omitempty"`
	AssigneeID       *int64         `json:"assignee_id,omitempty"`
	CustomAttributes map[string]any `json:"custom_attributes,omitempty"`
}

// APIError is a non-2xx answer from the platform
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultMessagingTimeout
	}

	return &Client{
		baseURL:    fmt.Sprintf("%s/api/v1/accounts/%d", strings.TrimRight(cfg.BaseURL, "/"), cfg.AccountID),
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) SendMessage(ctx context.Context, conversationID int64, content string, messageKind int, private bool) (*Message, error) {
	body := map[string]any{
		"content":      content,
		"message_type": messageKind,
		"private":      private,
	}

	var raw struct {
		ID             *int64  `json:"id"`
		Content        *string `json:"content"`
		MessageType    *int    `json:"message_type"`
		CreatedAt      *int64  `json:"created_at"`
		ConversationID *int64  `json:"conversation_id"`
	}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if err := c.do(ctx, http.MethodPost, path, body, &raw); err != nil {
		return nil, c.wrap("send message", conversationID, err)
	}

	missing := missingFields(map[string]bool{
		"id":              raw.ID == nil,
		"content":         raw.Content == nil,
		"message_type":    raw.MessageType == nil,
		"created_at":      raw.CreatedAt == nil,
		"conversation_id": raw.ConversationID == nil,
	})
	if len(missing) > 0 {
		return nil, c.wrap("send message", conversationID, fmt.Errorf("invalid response, missing %s", strings.Join(missing, ", ")))
	}

	msg := &Message{
		ID:             *raw.ID,
		Content:        *raw.Content,
		MessageType:    *raw.MessageType,
		CreatedAt:      *raw.CreatedAt,
		ConversationID: *raw.ConversationID,
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"message_id":      msg.ID,
	}).Info("Message sent")
	return msg, nil
}

func (c *Client) UpdateConversation(ctx context.Context, conversationID int64, update ConversationUpdate) (*Conversation, error) {
	conv, err := c.conversationCall(ctx, http.MethodPatch, fmt.Sprintf("/conversations/%d", conversationID), update)
	if err != nil {
		return nil, c.wrap("update conversation", conversationID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"status":          conv.Status,
	}).Info("Conversation updated")
	return conv, nil
}

func (c *Client) AddLabels(ctx context.Context, conversationID int64, labels []string) (*Conversation, error) {
	body := map[string]any{"labels": labels}
	conv, err := c.conversationCall(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/labels", conversationID), body)
	if err != nil {
		return nil, c.wrap("add labels", conversationID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"labels":          labels,
	}).Info("Labels added")
	return conv, nil
}

func (c *Client) RemoveLabels(ctx context.Context, conversationID int64, labels []string) error {
	body := map[string]any{"labels": labels}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/conversations/%d/labels", conversationID), body, nil); err != nil {
		return c.wrap("remove labels", conversationID, err)
	}

	c.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"labels":          labels,
	}).Info("Labels removed")
	return nil
}

func (c *Client) GetConversation(ctx context.Context, conversationID int64) (*Conversation, error) {
	conv, err := c.conversationCall(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d", conversationID), nil)
	if err != nil {
		return nil, c.wrap("fetch conversation", conversationID, err)
	}
	return conv, nil
}

func (c *Client) conversationCall(ctx context.Context, method, path string, body any) (*Conversation, error) {
	var raw struct {
		ID               *int64         `json:"id"`
		Status           *string        `json:"status"`
		Labels           []string       `json:"labels"`
		CustomAttributes map[string]any `json:"custom_attributes"`
	}
	if err := c.do(ctx, method, path, body, &raw); err != nil {
		return nil, err
	}

	missing := missingFields(map[string]bool{
		"id":     raw.ID == nil,
		"status": raw.Status == nil,
		"labels": raw.Labels == nil,
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("invalid response, missing %s", strings.Join(missing, ", "))
	}

	return &Conversation{
		ID:               *raw.ID,
		Status:           *raw.Status,
		Labels:           raw.Labels,
		CustomAttributes: raw.CustomAttributes,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("api_access_token", c.token)
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
	}).Debug("Messaging API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Error("Messaging API error")
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response body: %w", err)
	}
	return nil
}

func (c *Client) wrap(operation string, conversationID int64, err error) error {
	details := map[string]any{"conversation_id": conversationID}
	if status := StatusCode(err); status != 0 {
		details["status"] = status
	}
	return &models.Error{
		Code:    models.ErrCodeMessagingAPI,
		Message: "failed to " + operation,
		Details: details,
		Err:     err,
	}
}

// StatusCode returns the HTTP status carried by err, or 0 when the call never got an answer
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func missingFields(checks map[string]bool) []string {
	var out []string
	for _, name := range []string{"id", "content", "message_type", "created_at", "conversation_id", "status", "labels"} {
		if missing, ok := checks[name]; ok && missing {
			out = append(out, name)
		}
	}
	return out
}
