package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/pipeline"
	"conversation-automation/pkg/policy"
)

type fakeEvents struct {
	logged  []pipeline.LogRequest
	filter  models.EventFilter
	actions []models.Action
	err     error
}

func (f *fakeEvents) Log(ctx context.Context, req pipeline.LogRequest) (models.Event, error) {
	if f.err != nil {
		return models.Event{}, f.err
	}
	f.logged = append(f.logged, req)
	return models.Event{ID: 1, TenantID: req.TenantID, SubjectID: req.SubjectID, Type: req.Type, Payload: req.Payload, Timestamp: req.Timestamp}, nil
}

func (f *fakeEvents) Query(ctx context.Context, tenantID string, filter models.EventFilter) ([]models.Event, error) {
	f.filter = filter
	return []models.Event{{ID: 1, TenantID: tenantID, Type: "a"}}, nil
}

func (f *fakeEvents) ApplyPolicies(ctx context.Context, ev models.Event) ([]models.Action, error) {
	return f.actions, f.err
}

type fakeSync struct {
	plan     models.ExecutionPlan
	actions  []models.Action
	cleared  bool
	err      error
	tenantID string
	convID   int64
}

func (f *fakeSync) Sync(ctx context.Context, tenantID string, conversationID int64, plan models.ExecutionPlan) (*models.SyncResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tenantID, f.convID, f.plan = tenantID, conversationID, plan
	return &models.SyncResult{MessagesSent: len(plan.Persist), Errors: []string{}}, nil
}

func (f *fakeSync) ExecuteActions(ctx context.Context, tenantID string, conversationID int64, actions []models.Action) error {
	f.tenantID, f.convID, f.actions = tenantID, conversationID, actions
	return f.err
}

func (f *fakeSync) ClearCache(ctx context.Context) error {
	f.cleared = true
	return nil
}

type fakeFailures struct{}

func (fakeFailures) Entries() []pipeline.Failure {
	return []pipeline.Failure{{EventID: 4, Stage: pipeline.StageDispatch, Error: "down"}}
}

func newTestRouter(events *fakeEvents, sync *fakeSync) *mux.Router {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	h := NewHandler(events, sync, policy.NewMatcher(logger), fakeFailures{}, "pod-1", logger)

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/events", h.LogEvent).Methods("POST")
	router.HandleFunc("/api/v1/tenants/{tenant_id}/events", h.QueryEvents).Methods("GET")
	router.HandleFunc("/api/v1/policies/match", h.MatchPolicies).Methods("POST")
	router.HandleFunc("/api/v1/conversations/{id}/sync", h.SyncConversation).Methods("POST")
	router.HandleFunc("/api/v1/conversations/{id}/actions", h.ExecuteActions).Methods("POST")
	router.HandleFunc("/api/v1/idempotency", h.ClearIdempotency).Methods("DELETE")
	router.HandleFunc("/api/v1/dead-letters", h.DeadLetters).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")
	return router
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, router http.Handler, method, path, body string) (int, response) {
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestLogEvent_AcceptsAliases(t *testing.T) {
	events := &fakeEvents{}
	router := newTestRouter(events, &fakeSync{})

	status, out := do(t, router, "POST", "/api/v1/events",
		`{"tenant_id": "acme", "contact_id": 9, "event_type": "intent_detected", "payload": {"confidence": 0.9}, "timestamp": 1700000000000}`)

	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, out.Success)
	require.Len(t, events.logged, 1)
	assert.Equal(t, int64(9), events.logged[0].SubjectID)
	assert.Equal(t, "intent_detected", events.logged[0].Type)
	assert.Equal(t, int64(1700000000000), events.logged[0].Timestamp.UnixMilli())
}

func TestLogEvent_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", models.MissingField("tenant_id"), http.StatusBadRequest, "ERR_MISSING_FIELD"},
		{"tenant", fmt.Errorf("failed to resolve tenant x: %w", &models.Error{Code: models.ErrCodeInvalidTenant, Message: "tenant", Err: config.ErrTenantNotFound}), http.StatusNotFound, "ERR_INVALID_TENANT"},
		{"store", &models.Error{Code: models.ErrCodeStore, Message: "failed to record event"}, http.StatusInternalServerError, "ERR_STORE"},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, "ERR_INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeEvents{err: tc.err}, &fakeSync{})

			status, out := do(t, router, "POST", "/api/v1/events", `{"tenant_id": "x", "type": "y"}`)

			assert.Equal(t, tc.status, status)
			assert.False(t, out.Success)
			require.NotNil(t, out.Error)
			assert.Equal(t, tc.code, out.Error.Code)
		})
	}
}

func TestLogEvent_InvalidJSON(t *testing.T) {
	router := newTestRouter(&fakeEvents{}, &fakeSync{})

	status, out := do(t, router, "POST", "/api/v1/events", `{not json`)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_VALIDATION", out.Error.Code)
}

func TestQueryEvents_ParsesFilter(t *testing.T) {
	events := &fakeEvents{}
	router := newTestRouter(events, &fakeSync{})

	status, out := do(t, router, "GET", "/api/v1/tenants/acme/events?subject_id=9&type=a&from=1700000000000", "")

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, out.Success)
	require.NotNil(t, events.filter.SubjectID)
	assert.Equal(t, int64(9), *events.filter.SubjectID)
	assert.Equal(t, "a", events.filter.Type)
	require.NotNil(t, events.filter.From)
	assert.Equal(t, time.UnixMilli(1700000000000), *events.filter.From)
	assert.Nil(t, events.filter.To)

	status, _ = do(t, router, "GET", "/api/v1/tenants/acme/events?to=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMatchPolicies_InlinePolicies(t *testing.T) {
	router := newTestRouter(&fakeEvents{}, &fakeSync{})

	status, out := do(t, router, "POST", "/api/v1/policies/match", `{
		"event": {"type": "intent_detected", "payload": {"confidence": 0.9}},
		"policies": [{
			"event_type": "intent_detected",
			"condition": {">=": [{"var": "payload.confidence"}, 0.8]},
			"actions": [{"type": "assign_agent", "params": {"agent_id": 123}}]
		}]
	}`)

	assert.Equal(t, http.StatusOK, status)
	var data struct {
		Actions []models.Action `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &data))
	require.Len(t, data.Actions, 1)
	assert.Equal(t, models.ActionAssignAgent, data.Actions[0].Type)
}

func TestMatchPolicies_TenantPolicies(t *testing.T) {
	events := &fakeEvents{actions: []models.Action{{Type: models.ActionAddLabel}}}
	router := newTestRouter(events, &fakeSync{})

	status, out := do(t, router, "POST", "/api/v1/policies/match", `{"event": {"tenant_id": "acme", "type": "x"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(out.Data), "add_label")

	status, _ = do(t, router, "POST", "/api/v1/policies/match", `{"event": {"type": "x"}}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSyncConversation(t *testing.T) {
	sync := &fakeSync{}
	router := newTestRouter(&fakeEvents{}, sync)

	status, out := do(t, router, "POST", "/api/v1/conversations/55/sync", `{
		"tenant_id": "acme",
		"execution_plan": {
			"persist": {"welcome": {"kind": "message", "value": "Hello"}},
			"labels": {"add": ["vip"], "remove": []},
			"contact_attributes": {},
			"emit_events": []
		}
	}`)

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, out.Success)
	assert.Equal(t, int64(55), sync.convID)
	assert.Equal(t, models.PersistMessage, sync.plan.Persist["welcome"].Kind)
	assert.Equal(t, []string{"vip"}, sync.plan.Labels.Add)

	var result models.SyncResult
	require.NoError(t, json.Unmarshal(out.Data, &result))
	assert.Equal(t, 1, result.MessagesSent)
}

func TestSyncConversation_Validation(t *testing.T) {
	router := newTestRouter(&fakeEvents{}, &fakeSync{})

	status, _ := do(t, router, "POST", "/api/v1/conversations/abc/sync", `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, out := do(t, router, "POST", "/api/v1/conversations/55/sync", `{"tenant_id": "acme"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ERR_MISSING_FIELD", out.Error.Code)
}

func TestExecuteActions(t *testing.T) {
	sync := &fakeSync{}
	router := newTestRouter(&fakeEvents{}, sync)

	status, out := do(t, router, "POST", "/api/v1/conversations/55/actions",
		`{"tenant_id": "acme", "actions": [{"type": "add_label", "params": {"label": "vip"}}]}`)

	assert.Equal(t, http.StatusAccepted, status)
	assert.True(t, out.Success)
	require.Len(t, sync.actions, 1)
	assert.Equal(t, "vip", sync.actions[0].Params["label"])
}

func TestClearIdempotencyAndDeadLetters(t *testing.T) {
	sync := &fakeSync{}
	router := newTestRouter(&fakeEvents{}, sync)

	status, _ := do(t, router, "DELETE", "/api/v1/idempotency", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, sync.cleared)

	status, out := do(t, router, "GET", "/api/v1/dead-letters", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(out.Data), `"stage":"dispatch"`)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeEvents{}, &fakeSync{})

	status, out := do(t, router, "GET", "/health", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(out.Data), "pod-1")
	assert.Contains(t, string(out.Data), `"healthy"`)
}

func TestHealth_DegradedCheck(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	h := NewHandler(&fakeEvents{}, &fakeSync{}, policy.NewMatcher(logger), fakeFailures{}, "pod-1", logger)
	h.AddCheck("redis", pingFunc(func(ctx context.Context) error { return fmt.Errorf("connection refused") }))

	router := mux.NewRouter()
	router.HandleFunc("/health", h.Health)

	status, out := do(t, router, "GET", "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(out.Data), `"degraded"`)
	assert.Contains(t, string(out.Data), "connection refused")
}
