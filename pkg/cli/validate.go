package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"conversation-automation/pkg/config"
)

// PolicyProblem locates a malformed policy in a tenants document
type PolicyProblem struct {
	TenantID string
	Index    int
	Problem  string
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var tenantsPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a tenants document for malformed policies",
		Long: `Check a tenants document for malformed policies.

Malformed conditions load as never-matching policies at runtime; this command
reports them up front and exits non-zero when any are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(tenantsPath)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "failed to read tenants", Err: err}
			}
			tenants, err := config.ParseTenants(data)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "failed to parse tenants", Err: err}
			}

			problems := ValidateTenants(tenants)
			out := cmd.OutOrStdout()
			for _, p := range problems {
				fmt.Fprintf(out, "tenant %s policy %d: %s\n", p.TenantID, p.Index, p.Problem)
			}
			if len(problems) > 0 {
				return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d problem(s) found", len(problems))}
			}

			fmt.Fprintf(out, "%d tenant(s) valid\n", len(tenants))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantsPath, "tenants", "", "tenants document (YAML or JSON)")
	_ = cmd.MarkFlagRequired("tenants")

	return cmd
}

// ValidateTenants lists every problem reported by the tenants' policies
func ValidateTenants(tenants []config.Tenant) []PolicyProblem {
	var problems []PolicyProblem
	for _, t := range tenants {
		if t.ID == "" {
			problems = append(problems, PolicyProblem{Index: -1, Problem: "tenant id is required"})
		}
		for i, p := range t.Policies {
			for _, problem := range p.Validate() {
				problems = append(problems, PolicyProblem{TenantID: t.ID, Index: i, Problem: problem})
			}
		}
	}
	return problems
}
