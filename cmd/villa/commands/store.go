package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"villa/pkg/vault"
)

var storeTargets []string

var storeCmd = &cobra.Command{
	Use:   "store [file]",
	Short: "Store raw content in one or more vaults",
	Long: `Store the file content as a single object in every target vault (all vaults by default).
Each vault is written independently: a failure in one vault does not undo the others.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		// 1. 解锁目标中的加密 Vault；解锁失败的 Vault 会在 Ingest 中报告
		targets := storeTargets
		var vaults []*vault.Vault
		if len(targets) == 0 {
			vaults = V.Registry.Vaults()
		} else {
			for _, name := range targets {
				if v, err := V.Registry.Vault(name); err == nil {
					vaults = append(vaults, v)
				}
			}
		}
		for _, v := range vaults {
			if err := unlockVault(v); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  %v\n", err)
			}
		}

		// 2. 逐个 Vault 写入
		res := V.Registry.Ingest(cmd.Context(), data, targets)
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.Hash)

		names := make([]string, 0, len(res.Succeeded)+len(res.Failed))
		for name := range res.Succeeded {
			names = append(names, name)
		}
		for name := range res.Failed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err, failed := res.Failed[name]; failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  ❌ %s: %v\n", name, err)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "  ✅ %s\n", name)
			}
		}
		return res.Err()
	},
}

func init() {
	storeCmd.Flags().StringSliceVarP(&storeTargets, "vault", "v", nil, "target vault (repeatable, default: all)")
	rootCmd.AddCommand(storeCmd)
}
