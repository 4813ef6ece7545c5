package cmd

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/yeisme/panvault/pkg/configs"
)

func registerConfigsCommands() {
	configCmd := &cobra.Command{Use: "config", Short: "inspect the loaded configuration"}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "print the config file in use",
			Run: func(cmd *cobra.Command, args []string) {
				used := ""
				if v := configs.GetViper(); v != nil {
					used = v.ConfigFileUsed()
				}

				if used == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "(defaults and environment only)")
					return
				}

				fmt.Fprintln(cmd.OutOrStdout(), used)
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "print the effective configuration as JSON",
			RunE: func(cmd *cobra.Command, args []string) error {
				if debug {
					configs.GetViper().Debug()
				}

				b, err := sonic.ConfigStd.MarshalIndent(appConfig, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal config: %w", err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), string(b))

				return nil
			},
		},
		// 加载阶段已校验，能走到这里即通过
		&cobra.Command{
			Use:   "validate",
			Short: "load and validate the configuration",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
			},
		},
	)

	rootCmd.AddCommand(configCmd)
}
