package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/handlers"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/pipeline"
)

// EventLogger records events and waits for their policy applications.
// The runtime freezes between invocations, so detached work must finish before returning.
type EventLogger interface {
	Log(ctx context.Context, req pipeline.LogRequest) (models.Event, error)
	Wait()
}

type Handler struct {
	events EventLogger
	logger *logrus.Logger
}

func NewHandler(events EventLogger, logger *logrus.Logger) *Handler {
	return &Handler{events: events, logger: logger}
}

func (h *Handler) LogEvent(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := readBody(req)
	if err != nil {
		return h.errorResp(models.Validationf("invalid body: %v", err)), nil
	}

	var in handlers.EventRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return h.errorResp(models.Validationf("invalid json: %v", err)), nil
	}

	ev, err := h.events.Log(ctx, in.LogRequest())
	if err != nil {
		return h.errorResp(err), nil
	}
	h.events.Wait()

	h.logger.WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"tenant_id":  ev.TenantID,
		"request_id": req.RequestContext.RequestID,
	}).Info("Event logged")

	return jsonResp(http.StatusCreated, handlers.SuccessEnvelope(ev)), nil
}

func (h *Handler) errorResp(err error) events.APIGatewayV2HTTPResponse {
	status := handlers.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Event log failed")
	}
	return jsonResp(status, handlers.ErrorEnvelope(err))
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
