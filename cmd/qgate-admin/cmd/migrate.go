package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/qualitygate/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			n, err := migrations.NewRunner(e.db.DB, migrations.Files(), e.log).Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			runner := migrations.NewRunner(e.db.DB, migrations.Files(), e.log)
			applied, err := runner.GetAppliedMigrations(cmd.Context())
			if err != nil {
				return err
			}
			pending, err := runner.GetPendingMigrations(cmd.Context())
			if err != nil {
				return err
			}

			t := newTable(cmd.OutOrStdout(), "VERSION", "STATUS", "APPLIED AT")
			for _, m := range applied {
				t.AddRow(m.Version, "applied", m.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			for _, v := range pending {
				t.AddRow(v, "pending", "-")
			}
			t.Flush()
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
}
