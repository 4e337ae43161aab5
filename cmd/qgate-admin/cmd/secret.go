package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage namespace secrets",
}

var flagSecretName string

var secretSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a namespace secret, reading the value from stdin",
	Example: `  printf %s "$TOKEN" | qgate-admin secret set --namespace 7 --name API_TOKEN`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read secret value: %w", err)
		}
		value := strings.TrimRight(string(raw), "\r\n")
		if value == "" {
			return fmt.Errorf("empty secret value")
		}
		return withEnv(func(e *env) error {
			if err := e.repos.Secret.Set(cmd.Context(), flagNamespace, flagSecretName, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "secret %s set for namespace %d\n", flagSecretName, flagNamespace)
			return nil
		})
	},
}

func init() {
	secretSetCmd.Flags().Int64Var(&flagNamespace, "namespace", 0, "Namespace ID")
	secretSetCmd.Flags().StringVar(&flagSecretName, "name", "", "Secret name")
	_ = secretSetCmd.MarkFlagRequired("namespace")
	_ = secretSetCmd.MarkFlagRequired("name")

	secretCmd.AddCommand(secretSetCmd)
}
