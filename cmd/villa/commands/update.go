package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"villa/pkg/core"
)

var (
	updateBranch  string
	updateMessage string
)

var updateCmd = &cobra.Command{
	Use:   "update [vault] [file-id] [path]",
	Short: "Record a new version of a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, fileID, err := openLibrary(args[0], args[1])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}

		c, err := lib.Update(cmd.Context(), fileID, updateBranch, data, updateMessage)
		if err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", updateBranch, c.ID().Short(), c.Message)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVarP(&updateBranch, "branch", "b", core.DefaultBranch, "branch to advance")
	updateCmd.Flags().StringVarP(&updateMessage, "message", "m", "", "commit message")
	rootCmd.AddCommand(updateCmd)
}
