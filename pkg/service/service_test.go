package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conversation-automation/pkg/config"
	"conversation-automation/pkg/constants"
	"conversation-automation/pkg/metrics"
	"conversation-automation/pkg/models"
	"conversation-automation/pkg/pipeline"
)

// platformResponse satisfies both the message and the conversation response shapes
const platformResponse = `{"id": 1, "content": "ok", "message_type": 1, "created_at": 1700000000,
	"conversation_id": 55, "status": "open", "labels": []}`

type platform struct {
	mu       sync.Mutex
	requests []string
}

func (p *platform) handler(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.requests = append(p.requests, r.Method+" "+r.URL.Path)
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(platformResponse))
}

func (p *platform) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func writeTenants(t *testing.T, apiURL string) string {
	doc := fmt.Sprintf(`
tenants:
  - id: acme
    chatwoot:
      account_id: 7
      api_url: %s
      api_token: secret
    policies:
      - event_type: intent_detected
        condition:
          ">=": [{var: payload.confidence}, 0.8]
        actions:
          - type: add_label
            params: {label: hot-lead}
`, apiURL)

	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func testConfig(t *testing.T, tenantsFile string) *config.Config {
	return &config.Config{
		Port:               "0",
		PodID:              "pod-test",
		TenantsFile:        tenantsFile,
		EventStore:         constants.BackendSQLite,
		EventStorePath:     filepath.Join(t.TempDir(), "events.db"),
		IdempotencyBackend: constants.BackendMemory,
		EmitBackend:        constants.BackendLog,
		RetryMaxAttempts:   1,
		RetryBackoff:       2,
		RetryMaxDelayMS:    10,
		PolicyTimeoutMS:    5000,
		DeadLetterSize:     8,
		MessagingTimeoutMS: 5000,
	}
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestService_LogDispatchesMatchedActions(t *testing.T) {
	remote := &platform{}
	srv := httptest.NewServer(http.HandlerFunc(remote.handler))
	defer srv.Close()

	svc, err := NewService(testConfig(t, writeTenants(t, srv.URL)), newTestLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	ev, err := svc.Pipeline().Log(context.Background(), pipeline.LogRequest{
		TenantID:  "acme",
		SubjectID: 9,
		Type:      "intent_detected",
		Payload:   map[string]any{"confidence": 0.93, "conversation_id": 55},
	})
	require.NoError(t, err)
	assert.Positive(t, ev.ID)

	svc.Pipeline().Wait()
	assert.Equal(t, []string{"POST /api/v1/accounts/7/conversations/55/labels"}, remote.snapshot())
	assert.Empty(t, svc.DeadLetter().Entries())

	events, err := svc.Pipeline().Query(context.Background(), "acme", models.EventFilter{Type: "intent_detected"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, svc.Stop(ctx))
}

func TestService_SyncIsIdempotent(t *testing.T) {
	remote := &platform{}
	srv := httptest.NewServer(http.HandlerFunc(remote.handler))
	defer srv.Close()

	svc, err := NewService(testConfig(t, writeTenants(t, srv.URL)), newTestLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	plan := models.ExecutionPlan{
		Persist: map[string]models.PersistEntry{"welcome": {Kind: models.PersistMessage, Value: "Hello"}},
	}

	first, err := svc.Engine().Sync(context.Background(), "acme", 55, plan)
	require.NoError(t, err)
	second, err := svc.Engine().Sync(context.Background(), "acme", 55, plan)
	require.NoError(t, err)

	assert.Equal(t, 1, first.MessagesSent)
	assert.Equal(t, 0, second.MessagesSent)
	assert.Len(t, remote.snapshot(), 1)
}

func TestService_DeadLettersEventsWithoutConversation(t *testing.T) {
	svc, err := NewService(testConfig(t, writeTenants(t, "http://127.0.0.1:1")), newTestLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	_, err = svc.Pipeline().Log(context.Background(), pipeline.LogRequest{
		TenantID: "acme",
		Type:     "intent_detected",
		Payload:  map[string]any{"confidence": 0.99},
	})
	require.NoError(t, err)
	svc.Pipeline().Wait()

	entries := svc.DeadLetter().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, pipeline.StageDispatch, entries[0].Stage)
}

func TestService_UnknownBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"store":       func(c *config.Config) { c.EventStore = "postgres" },
		"idempotency": func(c *config.Config) { c.IdempotencyBackend = "etcd" },
		"emit":        func(c *config.Config) { c.EmitBackend = "nats" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t, writeTenants(t, "http://127.0.0.1:1"))
			mutate(cfg)

			_, err := NewService(cfg, newTestLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
			assert.Error(t, err)
		})
	}
}

func TestService_MissingTenantsFile(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := NewService(cfg, newTestLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	assert.Error(t, err)
}

func TestService_TenantFromEnvironment(t *testing.T) {
	t.Setenv("TENANT_ID", "solo")
	t.Setenv("CHATWOOT_ACCOUNT_ID", "3")
	t.Setenv("CHATWOOT_API_TOKEN", "tok")

	cfg := testConfig(t, "")
	cfg.EventStore = constants.BackendMemory

	svc, err := NewService(cfg, newTestLogger(), metrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	tenant, err := svc.Tenants().Get(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, int64(3), tenant.Chatwoot.AccountID)
	assert.NotNil(t, svc.Handler())
}
