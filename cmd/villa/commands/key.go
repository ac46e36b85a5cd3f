package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"villa/pkg/exporter"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Inspect vault keys",
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the keys of all encrypted vaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exporter.PrintKeys(cmd.OutOrStdout(), V.Registry.Keys())
	},
}

var keyCheckCmd = &cobra.Command{
	Use:   "check [vault]",
	Short: "Verify a vault password without touching any data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault(args[0])
		if err != nil {
			return err
		}
		if !v.Encrypted() {
			fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Vault %s is not encrypted\n", v.Name())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🔓 Password OK for %s (key %s)\n", v.Name(), v.Key().ShortHash())
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keyListCmd, keyCheckCmd)
	rootCmd.AddCommand(keyCmd)
}
