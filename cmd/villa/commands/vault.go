package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"villa/pkg/exporter"
	"villa/pkg/keys"
	"villa/pkg/vault"
)

var (
	vaultName   string
	vaultPlain  bool
	vaultCipher string
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the vaults known to this machine",
}

var vaultCreateCmd = &cobra.Command{
	Use:   "create [path]",
	Short: "Create a new vault and register it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		name := vaultName
		if name == "" {
			name = filepath.Base(filepath.Clean(path))
		}

		var (
			v   *vault.Vault
			err error
		)
		if vaultPlain {
			v, err = V.Registry.CreatePlainVault(cmd.Context(), path, name)
		} else {
			variant, perr := keys.ParseVariant(vaultCipher)
			if perr != nil {
				return perr
			}
			pw, perr := readPassword(fmt.Sprintf("New password for %s: ", name))
			if perr != nil {
				return perr
			}
			v, err = V.Registry.CreateVault(cmd.Context(), path, name, pw, variant)
		}
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}

		if v.Encrypted() {
			fmt.Fprintf(cmd.OutOrStdout(), "🔐 Created encrypted vault %s (%s, key %s) at %s\n",
				v.Name(), v.Key().Variant(), v.Key().ShortHash(), v.Path())
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "📂 Created plain vault %s at %s\n", v.Name(), v.Path())
		}
		return nil
	},
}

var vaultAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register an existing vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := V.Registry.AddVault(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("add failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Registered vault %s (%s)\n", v.Name(), v.Path())
		return nil
	},
}

var vaultRemoveCmd = &cobra.Command{
	Use:   "remove [name|path]",
	Short: "Forget a vault (its files stay on disk)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := V.Registry.RemoveVault(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("remove failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Removed %s from the registry\n", args[0])
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered vaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exporter.PrintVaults(cmd.OutOrStdout(), V.Registry.Vaults(), V.Registry.Unavailable())
	},
}

func init() {
	vaultCreateCmd.Flags().StringVarP(&vaultName, "name", "n", "", "vault name (default: directory name)")
	vaultCreateCmd.Flags().BoolVar(&vaultPlain, "plain", false, "create an unencrypted vault")
	vaultCreateCmd.Flags().StringVar(&vaultCipher, "cipher", "aes256", "AES variant: aes128, aes192 or aes256")

	vaultCmd.AddCommand(vaultCreateCmd, vaultAddCmd, vaultRemoveCmd, vaultListCmd)
	rootCmd.AddCommand(vaultCmd)
}
