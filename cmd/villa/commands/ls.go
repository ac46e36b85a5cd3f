package commands

import (
	"github.com/spf13/cobra"

	"villa/pkg/exporter"
)

var lsCmd = &cobra.Command{
	Use:   "ls [vault]",
	Short: "List the documents in a vault",
	Long:  `List the documents in a vault. The SQL catalog answers when it is up to date; otherwise the vault records are read.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, _, err := openLibrary(args[0], "")
		if err != nil {
			return err
		}
		files, err := lib.Summaries(cmd.Context())
		if err != nil {
			return err
		}
		return exporter.PrintFiles(cmd.OutOrStdout(), files)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
