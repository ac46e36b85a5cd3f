package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"villa/pkg/core"
	"villa/pkg/exporter"
	"villa/pkg/types"
)

var logBranch string

var logCmd = &cobra.Command{
	Use:   "log [vault] [file-id]",
	Short: "Show the history of a document",
	Long:  `Display the commits of a document, starting from the head of the branch and following the parent chain.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lib, fileID, err := openLibrary(args[0], args[1])
		if err != nil {
			return err
		}

		summary, err := lib.Summary(ctx, fileID)
		if err != nil {
			return err
		}
		history, err := lib.History(ctx, fileID, logBranch)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}

		details := exporter.LogDetails{Sizes: make(map[types.Hash]int64, len(history))}
		// 每个版本的大小需要读出内容才知道
		for _, c := range history {
			data, err := lib.ReadAt(ctx, fileID, c.ID())
			if err != nil {
				return err
			}
			if e, ok := c.Entry(fileID); ok {
				details.Sizes[e.Blob.Hash] = int64(len(data))
			}
		}
		if details.Tags, err = lib.TagsByCommit(ctx, fileID); err != nil {
			return err
		}
		if details.Times, err = lib.CommitTimes(ctx, fileID); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) on %s\n\n", summary.Name, summary.ID.Short(), logBranch)
		return exporter.PrintLog(cmd.OutOrStdout(), fileID, history, details)
	},
}

func init() {
	logCmd.Flags().StringVarP(&logBranch, "branch", "b", core.DefaultBranch, "branch to follow")
	rootCmd.AddCommand(logCmd)
}
