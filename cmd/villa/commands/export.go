package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"villa/pkg/core"
	"villa/pkg/exporter"
	"villa/pkg/types"
)

var exportBranch string

var exportCmd = &cobra.Command{
	Use:   "export [vault] [dir]",
	Short: "Write the current version of every document to a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, _, err := openLibrary(args[0], "")
		if err != nil {
			return err
		}

		exp := exporter.NewExporter(lib, nil)
		n, err := exp.RestoreFiles(cmd.Context(), args[1], exportBranch, func(path string, _ types.Hash, size int64) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d bytes)\n", path, size)
		})
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Exported %d files to %s\n", n, args[1])
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [vault]",
	Short: "Rebuild the SQL catalog of a vault from its records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if V.Catalog == nil {
			return fmt.Errorf("catalog is disabled (catalog.enabled=false)")
		}
		lib, _, err := openLibrary(args[0], "")
		if err != nil {
			return err
		}
		n, err := lib.Reindex(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Reindexed %d files\n", n)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportBranch, "branch", "b", core.DefaultBranch, "branch to export")
	rootCmd.AddCommand(exportCmd, reindexCmd)
}
