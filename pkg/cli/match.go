package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"conversation-automation/pkg/models"
	"conversation-automation/pkg/policy"
)

type matchOptions struct {
	policiesPath string
	eventPath    string
}

// eventDocument is the event file read by match; JSON files parse as YAML too
type eventDocument struct {
	TenantID  string         `yaml:"tenant_id"`
	SubjectID int64          `yaml:"subject_id"`
	Type      string         `yaml:"type"`
	Payload   map[string]any `yaml:"payload"`
	Timestamp int64          `yaml:"timestamp"`
}

func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &matchOptions{}

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match an event against a policy file without dispatching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := loadPolicies(opts.policiesPath)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "failed to load policies", Err: err}
			}
			ev, err := loadEvent(opts.eventPath)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "failed to load event", Err: err}
			}

			logger := NewLogger(rootOpts.LogLevel)
			logger.SetOutput(cmd.ErrOrStderr())
			if rootOpts.LogLevel == "" {
				logger.SetLevel(logrus.WarnLevel)
			}

			actions := policy.NewMatcher(logger).Match(ev, policies)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"actions": actions})
		},
	}

	cmd.Flags().StringVar(&opts.policiesPath, "policies", "", "policy file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.eventPath, "event", "", "event file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("policies")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

// loadPolicies accepts either a bare list of policies or a document with a policies key
func loadPolicies(path string) ([]policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Policies []policy.Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Policies != nil {
		return doc.Policies, nil
	}

	var list []policy.Policy
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return list, nil
}

func loadEvent(path string) (models.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Event{}, err
	}

	var doc eventDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.Event{}, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Type == "" {
		return models.Event{}, models.MissingField("type")
	}

	ev := models.Event{
		TenantID:  doc.TenantID,
		SubjectID: doc.SubjectID,
		Type:      doc.Type,
		Payload:   doc.Payload,
		Timestamp: time.Now(),
	}
	if doc.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(doc.Timestamp)
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	return ev, nil
}
