package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/qualitygate/pkg/domain/finding"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

var findingCmd = &cobra.Command{
	Use:   "finding",
	Short: "Manage findings",
}

var (
	flagFindingID string
	flagUser      string
)

var findingResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a finding manually",
	RunE: func(cmd *cobra.Command, args []string) error {
		return findingAction(cmd, func(e *env, id shared.ID) (*finding.Finding, error) {
			return e.findings().ResolveManually(cmd.Context(), id, flagUser)
		})
	},
}

var findingReopenCmd = &cobra.Command{
	Use:   "reopen",
	Short: "Reopen a manually resolved finding",
	RunE: func(cmd *cobra.Command, args []string) error {
		return findingAction(cmd, func(e *env, id shared.ID) (*finding.Finding, error) {
			return e.findings().Reopen(cmd.Context(), id, flagUser)
		})
	},
}

func findingAction(cmd *cobra.Command, fn func(e *env, id shared.ID) (*finding.Finding, error)) error {
	id, err := shared.ParseID(flagFindingID)
	if err != nil {
		return fmt.Errorf("invalid --id: %w", err)
	}
	return withEnv(func(e *env) error {
		f, err := fn(e, id)
		if err != nil {
			return err
		}
		printFinding(cmd, f)
		return nil
	})
}

func init() {
	for _, c := range []*cobra.Command{findingResolveCmd, findingReopenCmd} {
		c.Flags().StringVar(&flagFindingID, "id", "", "Finding ID")
		c.Flags().StringVar(&flagUser, "user", "", "User performing the action")
		_ = c.MarkFlagRequired("id")
		_ = c.MarkFlagRequired("user")
	}
	findingCmd.AddCommand(findingResolveCmd, findingReopenCmd)
}

type findingView struct {
	ID              string `json:"id" yaml:"id"`
	Check           string `json:"check" yaml:"check"`
	Status          string `json:"status" yaml:"status"`
	OccurrenceCount int    `json:"occurrence_count" yaml:"occurrence_count"`
	ResolvedBy      string `json:"resolved_by,omitempty" yaml:"resolved_by,omitempty"`
	RunID           int64  `json:"run_id" yaml:"run_id"`
}

func printFinding(cmd *cobra.Command, f *finding.Finding) {
	v := findingView{
		ID:              f.ID.String(),
		Check:           fmt.Sprintf("%s_%s_%s", f.Chapter, f.Requirement, f.Check),
		Status:          f.Status.String(),
		OccurrenceCount: f.OccurrenceCount,
		ResolvedBy:      ptrStr(f.ResolvedBy),
		RunID:           f.RunID,
	}
	switch flagOutput {
	case outputJSON:
		printJSON(cmd.OutOrStdout(), v)
	case outputYAML:
		printYAML(cmd.OutOrStdout(), v)
	default:
		t := newTable(cmd.OutOrStdout(), "ID", "CHECK", "STATUS", "OCCURRENCES", "RESOLVED BY", "RUN")
		t.AddRow(v.ID, v.Check, v.Status, fmt.Sprint(v.OccurrenceCount), v.ResolvedBy, fmt.Sprint(v.RunID))
		t.Flush()
	}
}
