package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"villa/pkg/exporter"
)

var catPretty bool

var catCmd = &cobra.Command{
	Use:   "cat [vault] [hash]",
	Short: "Show object content by hash",
	Long: `Retrieve an object from a vault by its content hash (a unique prefix is enough) and write it to stdout.
With --pretty, structured records (files, commits, branches, tags) are decoded for display.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		v, err := openVault(args[0])
		if err != nil {
			return err
		}
		hash, err := resolveObject(ctx, v, args[1])
		if err != nil {
			return err
		}
		data, err := v.Load(ctx, hash)
		if err != nil {
			return fmt.Errorf("cat failed: %w", err)
		}

		if catPretty {
			ok, err := exporter.PrintStructure(data, cmd.OutOrStdout())
			if err != nil || ok {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Type: Blob (Raw Data)\nSize: %d bytes\n", len(data))
			return nil
		}

		// 原样输出，二进制内容可以通过 > file 重定向
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	catCmd.Flags().BoolVarP(&catPretty, "pretty", "p", false, "decode structured records")
	rootCmd.AddCommand(catCmd)
}
