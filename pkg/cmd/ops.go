package cmd

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/yeisme/panvault/pkg/app"
)

var (
	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "purge recycled files past the retention period once",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.Sweep(cmd.Context(), appConfig)
			if err != nil {
				return err
			}

			b, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			return nil
		},
	}

	quotaCmd = &cobra.Command{
		Use:   "quota",
		Short: "quota maintenance commands",
	}

	quotaReconcileCmd = &cobra.Command{
		Use:   "reconcile <user>",
		Short: "recompute a user's used space from persisted file records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, after, err := app.Reconcile(cmd.Context(), appConfig, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: used %d -> %d bytes\n", args[0], before, after)

			return nil
		},
	}
)

// registerOpsCommands 注册一次性运维命令.
func registerOpsCommands() {
	quotaCmd.AddCommand(quotaReconcileCmd)

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(quotaCmd)
}
