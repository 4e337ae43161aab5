package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openctemio/qualitygate/pkg/domain/run"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration bundles",
}

var flagDir string

var configUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Replace the files of a configuration with the contents of a directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := readBundle(os.DirFS(flagDir))
		if err != nil {
			return err
		}
		return withEnv(func(e *env) error {
			scope := run.Scope{NamespaceID: flagNamespace, ConfigID: flagConfig}
			if err := e.repos.Config.Put(cmd.Context(), scope, files); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d file(s) to %s\n", len(files), scope)
			return nil
		})
	},
}

func init() {
	configUploadCmd.Flags().Int64Var(&flagNamespace, "namespace", 0, "Namespace ID")
	configUploadCmd.Flags().Int64Var(&flagConfig, "config", 0, "Configuration ID")
	configUploadCmd.Flags().StringVar(&flagDir, "dir", ".", "Directory holding the configuration files")
	_ = configUploadCmd.MarkFlagRequired("namespace")
	_ = configUploadCmd.MarkFlagRequired("config")

	configCmd.AddCommand(configUploadCmd)
}

// readBundle reads every regular file under fsys keyed by slash-separated
// path. Hidden files and directories are skipped.
func readBundle(fsys fs.FS) (map[string][]byte, error) {
	files := make(map[string][]byte)
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != "." && d.Name()[0] == '.' {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(path)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read configuration directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no configuration files found")
	}
	return files, nil
}
