package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"villa/pkg/core"
	"villa/pkg/types"
)

var branchFrom string

var tagCmd = &cobra.Command{
	Use:   "tag [vault] [file-id] [name] [commit]",
	Short: "Name a version of a document",
	Long:  `Tag a commit of the document. Without a commit argument the head of master is tagged.`,
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lib, fileID, err := openLibrary(args[0], args[1])
		if err != nil {
			return err
		}

		var commitID types.Hash
		if len(args) == 4 {
			v, err := V.Registry.Vault(args[0])
			if err != nil {
				return err
			}
			if commitID, err = resolveObject(ctx, v, args[3]); err != nil {
				return err
			}
		}

		t, err := lib.Tag(ctx, fileID, args[2], commitID)
		if err != nil {
			return fmt.Errorf("tag failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🏷️  %s -> %s\n", t.Name, t.Commit.Hash.Short())
		return nil
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch [vault] [file-id] [name]",
	Short: "Start a new branch of a document",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lib, fileID, err := openLibrary(args[0], args[1])
		if err != nil {
			return err
		}
		b, err := lib.CreateBranch(cmd.Context(), fileID, args[2], branchFrom)
		if err != nil {
			return fmt.Errorf("branch failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🌿 %s -> %s\n", b.Name, b.Head.Hash.Short())
		return nil
	},
}

func init() {
	branchCmd.Flags().StringVar(&branchFrom, "from", core.DefaultBranch, "branch to start from")
	rootCmd.AddCommand(tagCmd, branchCmd)
}
