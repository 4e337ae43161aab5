package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openctemio/qualitygate/internal/app/runs"
	"github.com/openctemio/qualitygate/internal/app/workflow"
	"github.com/openctemio/qualitygate/internal/infra/controller"
	"github.com/openctemio/qualitygate/pkg/domain/run"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start and inspect runs",
}

var (
	flagNamespace int64
	flagConfig    int64
	flagRunID     int64
	flagCheck     string
	flagEnv       []string
)

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Submit a new run of a configuration",
	Example: `  qgate-admin run start --namespace 7 --config 42
  qgate-admin run start --namespace 7 --config 42 --check 1_2.1_3 --env MODE=strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := submitOptions(flagCheck, flagEnv)
		if err != nil {
			return err
		}
		return withEnv(func(e *env) error {
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			rn, err := svc.Manager.Start(cmd.Context(), run.Scope{NamespaceID: flagNamespace, ConfigID: flagConfig}, opts)
			if err != nil {
				return err
			}
			printRun(cmd, rn)
			return nil
		})
	},
}

var runGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			rn, err := e.repos.Run.GetByID(cmd.Context(), flagNamespace, flagRunID)
			if err != nil {
				return err
			}
			printRun(cmd, rn)
			return nil
		})
	},
}

var runPollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Sweep active runs once and record finished ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(e *env) error {
			svc, err := e.services(cmd.Context())
			if err != nil {
				return err
			}
			lock, err := e.sweepLock(cmd.Context())
			if err != nil {
				return err
			}
			dispatcher := controller.NewInlineDispatcher(e.cfg.Poller.MaxConcurrent, e.cfg.Poller.PerRunTimeout, e.log)
			poller := controller.NewFinishedRunController(e.repos.Run, svc.Reconciler, dispatcher, &controller.FinishedRunControllerConfig{
				RunTimeout: e.cfg.Poller.RunTimeout,
				Lock:       lock,
				Logger:     e.log,
			})

			n, err := poller.Reconcile(cmd.Context())
			dispatcher.Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d run(s) dispatched for completion\n", n)
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{runStartCmd, runGetCmd} {
		c.Flags().Int64Var(&flagNamespace, "namespace", 0, "Namespace ID")
		_ = c.MarkFlagRequired("namespace")
	}
	runStartCmd.Flags().Int64Var(&flagConfig, "config", 0, "Configuration ID")
	runStartCmd.Flags().StringVar(&flagCheck, "check", "", "Run a single check: chapter_requirement_check")
	runStartCmd.Flags().StringArrayVar(&flagEnv, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	_ = runStartCmd.MarkFlagRequired("config")

	runGetCmd.Flags().Int64Var(&flagRunID, "id", 0, "Run ID")
	_ = runGetCmd.MarkFlagRequired("id")

	runCmd.AddCommand(runStartCmd, runGetCmd, runPollCmd)
}

// submitOptions parses the --check and --env flags.
func submitOptions(check string, envs []string) (runs.SubmitOptions, error) {
	var opts runs.SubmitOptions
	if check != "" {
		parts := strings.Split(check, "_")
		if len(parts) != 3 {
			return opts, fmt.Errorf("invalid --check %q: expected chapter_requirement_check", check)
		}
		opts.Selector = &workflow.Selector{Chapter: parts[0], Requirement: parts[1], Check: parts[2]}
	}
	if len(envs) > 0 {
		opts.Environment = make(map[string]string, len(envs))
		for _, kv := range envs {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return opts, fmt.Errorf("invalid --env %q: expected KEY=VALUE", kv)
			}
			opts.Environment[key] = value
		}
	}
	return opts, nil
}

func printRun(cmd *cobra.Command, rn *run.Run) {
	snap := rn.Snapshot()
	switch flagOutput {
	case outputJSON:
		printJSON(cmd.OutOrStdout(), snap)
		return
	case outputYAML:
		printYAML(cmd.OutOrStdout(), snap)
		return
	}

	t := newTable(cmd.OutOrStdout(), "NAMESPACE", "ID", "CONFIG", "STATUS", "RESULT", "JOB", "CREATED", "COMPLETED")
	result, job, completed := "-", "-", "-"
	if snap.OverallResult != nil {
		result = string(*snap.OverallResult)
	}
	if snap.Job != nil && snap.Job.Name != "" {
		job = snap.Job.Name
	}
	if snap.CompletionTime != nil {
		completed = snap.CompletionTime.Format(time.RFC3339)
	}
	t.AddRow(
		fmt.Sprint(snap.NamespaceID),
		fmt.Sprint(snap.ID),
		fmt.Sprint(snap.ConfigID),
		string(snap.Status),
		result,
		job,
		snap.CreationTime.Format(time.RFC3339),
		completed,
	)
	t.Flush()

	if len(snap.Log) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nLog:")
		for _, line := range snap.Log {
			fmt.Fprintln(cmd.OutOrStdout(), "  "+line)
		}
	}
}
