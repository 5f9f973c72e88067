package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/handlers"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/pipeline"
	"conversation-automation/pkg/policy"
)

type nopEvents struct{}

func (nopEvents) Log(ctx context.Context, req pipeline.LogRequest) (models.Event, error) {
	return models.Event{}, nil
}

func (nopEvents) Query(ctx context.Context, tenantID string, filter models.EventFilter) ([]models.Event, error) {
	return []models.Event{}, nil
}

func (nopEvents) ApplyPolicies(ctx context.Context, ev models.Event) ([]models.Action, error) {
	return []models.Action{}, nil
}

type nopSync struct{}

func (nopSync) Sync(ctx context.Context, tenantID string, conversationID int64, plan models.ExecutionPlan) (*models.SyncResult, error) {
	return &models.SyncResult{}, nil
}

func (nopSync) ExecuteActions(ctx context.Context, tenantID string, conversationID int64, actions []models.Action) error {
	return nil
}

func (nopSync) ClearCache(ctx context.Context) error {
	return nil
}

func newTestServer() *http.Server {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	dl := pipeline.NewDeadLetter(1, logger, nil)
	h := handlers.NewHandler(nopEvents{}, nopSync{}, policy.NewMatcher(logger), dl, "pod-1", logger)
	return NewHTTPServer(&config.Config{Port: "9999"}, h, logger)
}

func TestNewHTTPServer_Routes(t *testing.T) {
	srv := newTestServer()
	assert.Equal(t, ":9999", srv.Addr)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/v1/tenants/acme/events", http.StatusOK},
		{"DELETE", "/api/v1/idempotency", http.StatusOK},
		{"GET", "/api/v1/dead-letters", http.StatusOK},
		{"GET", "/api/v1/unknown", http.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		assert.Equal(t, tc.status, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestRequestID_FromContext(t *testing.T) {
	var seen string
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	handler := loggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "", RequestID(context.Background()))
}
