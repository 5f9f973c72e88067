package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"conversation-automation/pkg/models"
	"conversation-automation/pkg/policy"
)

// ErrTenantNotFound is returned, wrapped, when a tenant id has no configuration
var ErrTenantNotFound = errors.New("tenant not found")

const (
	envTenantID          = "TENANT_ID"
	envTenantName        = "TENANT_NAME"
	envChatwootAccountID = "CHATWOOT_ACCOUNT_ID"
	envChatwootBaseURL   = "CHATWOOT_BASE_URL"
	envChatwootAPIToken  = "CHATWOOT_API_TOKEN"
)

// ChatwootConfig holds the messaging platform credentials of one tenant
type ChatwootConfig struct {
	AccountID int64  `yaml:"account_id" json:"account_id"`
	APIURL    string `yaml:"api_url" json:"api_url"`
	APIToken  string `yaml:"api_token" json:"api_token"`
}

// Tenant is the per-tenant configuration consumed by the automation core
type Tenant struct {
	ID       string          `yaml:"id" json:"id"`
	Name     string          `yaml:"name" json:"name"`
	Chatwoot ChatwootConfig  `yaml:"chatwoot" json:"chatwoot"`
	Policies []policy.Policy `yaml:"policies" json:"policies"`
}

// TenantProvider resolves tenant configuration. Missing tenants fail with an error
// that matches ErrTenantNotFound under errors.Is.
type TenantProvider interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
}

type tenantsDocument struct {
	Tenants []Tenant `yaml:"tenants"`
}

// TenantStore is an in-memory TenantProvider seeded from a tenants file and/or the environment
type TenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	logger  *logrus.Logger
}

func NewTenantStore(logger *logrus.Logger) *TenantStore {
	return &TenantStore{
		tenants: make(map[string]*Tenant),
		logger:  logger,
	}
}

func (s *TenantStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, &models.Error{
			Code:    models.ErrCodeInvalidTenant,
			Message: fmt.Sprintf("tenant %q", tenantID),
			Details: map[string]any{"tenant_id": tenantID},
			Err:     ErrTenantNotFound,
		}
	}
	return t, nil
}

func (s *TenantStore) Set(t *Tenant) error {
	if t == nil || t.ID == "" {
		return models.MissingField("id")
	}

	for i, p := range t.Policies {
		for _, problem := range p.Validate() {
			s.logger.WithFields(logrus.Fields{
				"tenant_id":    t.ID,
				"policy_index": i,
				"event_type":   p.EventType,
			}).Warn("Policy problem: " + problem)
		}
	}

	s.mu.Lock()
	s.tenants[t.ID] = t
	s.mu.Unlock()
	return nil
}

// List returns the tenants ordered by id
func (s *TenantStore) List() []*Tenant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadFile reads a YAML (or JSON) document with a top level "tenants" list
func (s *TenantStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read tenants file: %w", err)
	}
	tenants, err := ParseTenants(data)
	if err != nil {
		return fmt.Errorf("failed to parse tenants file %s: %w", path, err)
	}
	for i := range tenants {
		if err := s.Set(&tenants[i]); err != nil {
			return fmt.Errorf("tenant %d in %s: %w", i, path, err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"path":    path,
		"tenants": len(tenants),
	}).Info("Loaded tenant configuration")
	return nil
}

// LoadEnv registers a single tenant described by TENANT_ID and CHATWOOT_* variables
func (s *TenantStore) LoadEnv() error {
	accountID, _ := strconv.ParseInt(getEnv(envChatwootAccountID, "0"), 10, 64)
	return s.Set(&Tenant{
		ID:   getEnv(envTenantID, "default"),
		Name: getEnv(envTenantName, "Default Tenant"),
		Chatwoot: ChatwootConfig{
			AccountID: accountID,
			APIURL:    getEnv(envChatwootBaseURL, "https://app.chatwoot.com"),
			APIToken:  getEnv(envChatwootAPIToken, ""),
		},
	})
}

// ParseTenants decodes a tenants document
func ParseTenants(data []byte) ([]Tenant, error) {
	var doc tenantsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Tenants, nil
}
