package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/pipeline"
	"conversation-automation/pkg/policy"
)

// EventLogger is the event pipeline surface used by the API
type EventLogger interface {
	Log(ctx context.Context, req pipeline.LogRequest) (models.Event, error)
	Query(ctx context.Context, tenantID string, filter models.EventFilter) ([]models.Event, error)
	ApplyPolicies(ctx context.Context, ev models.Event) ([]models.Action, error)
}

// Synchronizer is the sync engine surface used by the API
type Synchronizer interface {
	Sync(ctx context.Context, tenantID string, conversationID int64, plan models.ExecutionPlan) (*models.SyncResult, error)
	ExecuteActions(ctx context.Context, tenantID string, conversationID int64, actions []models.Action) error
	ClearCache(ctx context.Context) error
}

// FailureLister exposes dead-lettered policy applications
type FailureLister interface {
	Entries() []pipeline.Failure
}

// Pinger is a backend reported by the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

type Handler struct {
	events   EventLogger
	sync     Synchronizer
	matcher  *policy.Matcher
	failures FailureLister
	podID    string
	logger   *logrus.Logger
	checks   map[string]Pinger
}

func NewHandler(events EventLogger, sync Synchronizer, matcher *policy.Matcher, failures FailureLister, podID string, logger *logrus.Logger) *Handler {
	return &Handler{
		events:   events,
		sync:     sync,
		matcher:  matcher,
		failures: failures,
		podID:    podID,
		logger:   logger,
		checks:   make(map[string]Pinger),
	}
}

// AddCheck makes /health report degraded while p is unreachable
func (h *Handler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

type errorBody struct {
	Code    models.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Details map[string]any   `json:"details,omitempty"`
}

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

// EventRequest is the event body accepted by the API. It takes both the current
// field names and the contact_id / event_type aliases.
type EventRequest struct {
	TenantID  string         `json:"tenant_id"`
	SubjectID *int64         `json:"subject_id"`
	ContactID *int64         `json:"contact_id"`
	Type      string         `json:"type"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp,omitempty"`
}

func (r EventRequest) LogRequest() pipeline.LogRequest {
	req := pipeline.LogRequest{
		TenantID: r.TenantID,
		Type:     r.Type,
		Payload:  r.Payload,
	}
	if req.Type == "" {
		req.Type = r.EventType
	}
	switch {
	case r.SubjectID != nil:
		req.SubjectID = *r.SubjectID
	case r.ContactID != nil:
		req.SubjectID = *r.ContactID
	}
	if r.Timestamp > 0 {
		req.Timestamp = time.UnixMilli(r.Timestamp)
	}
	return req
}

func (r EventRequest) Event() models.Event {
	req := r.LogRequest()
	ev := models.Event{
		TenantID:  req.TenantID,
		SubjectID: req.SubjectID,
		Type:      req.Type,
		Payload:   req.Payload,
		Timestamp: req.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev
}

func (h *Handler) LogEvent(w http.ResponseWriter, r *http.Request) {
	var request EventRequest
	if !h.decode(w, r, &request) {
		return
	}

	ev, err := h.events.Log(r.Context(), request.LogRequest())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) QueryEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.events.Query(r.Context(), tenantID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, events)
}

// MatchPolicies is a dry run: inline policies are matched when given, otherwise the tenant's own
func (h *Handler) MatchPolicies(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Event    EventRequest    `json:"event"`
		Policies []policy.Policy `json:"policies"`
	}
	if !h.decode(w, r, &request) {
		return
	}

	ev := request.Event.Event()
	if ev.Type == "" {
		h.writeError(w, r, models.MissingField("event.type"))
		return
	}

	var (
		actions []models.Action
		err     error
	)
	if request.Policies != nil {
		actions = h.matcher.Match(ev, request.Policies)
	} else {
		if ev.TenantID == "" {
			h.writeError(w, r, models.MissingField("event.tenant_id"))
			return
		}
		actions, err = h.events.ApplyPolicies(r.Context(), ev)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (h *Handler) SyncConversation(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var request struct {
		TenantID      string                `json:"tenant_id"`
		ExecutionPlan *models.ExecutionPlan `json:"execution_plan"`
	}
	if !h.decode(w, r, &request) {
		return
	}
	if request.TenantID == "" || request.ExecutionPlan == nil {
		h.writeError(w, r, models.MissingField("tenant_id", "execution_plan"))
		return
	}

	result, err := h.sync.Sync(r.Context(), request.TenantID, conversationID, *request.ExecutionPlan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ExecuteActions(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.conversationID(w, r)
	if !ok {
		return
	}

	var request struct {
		TenantID string          `json:"tenant_id"`
		Actions  []models.Action `json:"actions"`
	}
	if !h.decode(w, r, &request) {
		return
	}
	if request.TenantID == "" {
		h.writeError(w, r, models.MissingField("tenant_id"))
		return
	}

	if err := h.sync.ExecuteActions(r.Context(), request.TenantID, conversationID, request.Actions); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"conversation_id": conversationID,
		"actions":         len(request.Actions),
	})
}

func (h *Handler) ClearIdempotency(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.ClearCache(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.failures.Entries())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, state := http.StatusOK, "healthy"
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.WithError(err).WithField("check", name).Warn("Health check failed")
			checks[name] = err.Error()
			status, state = http.StatusServiceUnavailable, "degraded"
			continue
		}
		checks[name] = "ok"
	}

	h.writeJSON(w, status, map[string]any{
		"status":    state,
		"pod_id":    h.podID,
		"checks":    checks,
		"timestamp": time.Now(),
	})
}

func (h *Handler) conversationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, models.Validationf("conversation id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		h.writeError(w, r, models.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}

func parseFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{Type: q.Get("type")}
	if filter.Type == "" {
		filter.Type = q.Get("event_type")
	}

	subject := q.Get("subject_id")
	if subject == "" {
		subject = q.Get("contact_id")
	}
	if subject != "" {
		id, err := strconv.ParseInt(subject, 10, 64)
		if err != nil {
			return filter, models.Validationf("subject_id must be an integer")
		}
		filter.SubjectID = &id
	}

	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, models.Validationf("%s must be a unix millisecond timestamp", name)
		}
		ts := time.UnixMilli(ms)
		*target = &ts
	}
	return filter, nil
}

// StatusFor maps an error to the HTTP status reported to API callers
func StatusFor(err error) int {
	switch {
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, config.ErrTenantNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrorEnvelope renders err the way every endpoint reports failures
func ErrorEnvelope(err error) any {
	body := &errorBody{Code: models.CodeOf(err), Message: err.Error()}
	var coded *models.Error
	if errors.As(err, &coded) {
		body.Details = coded.Details
	}
	if body.Code == models.ErrCodeInternal {
		body.Message = "Internal server error"
	}
	return envelope{Success: false, Error: body}
}

// SuccessEnvelope wraps data in the success envelope
func SuccessEnvelope(data any) any {
	return envelope{Success: true, Data: data}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	entry := h.logger.WithError(err).WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	writeBody(w, status, ErrorEnvelope(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	writeBody(w, status, SuccessEnvelope(data))
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
