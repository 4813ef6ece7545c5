package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/storage/db"
	"github.com/yeisme/panvault/pkg/internal/storage/kv"
	"github.com/yeisme/panvault/pkg/internal/storage/mq"
	"github.com/yeisme/panvault/pkg/queue"
)

// listTypesCmd 生成列出已注册驱动的 ls 子命令，当前配置选中的以 * 标记.
func listTypesCmd[T ~string](what string, types func() []T, current func(*configs.AppConfig) string) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Short:   "list registered " + what + " types",
		Aliases: []string{"list", "l"},
		Run: func(cmd *cobra.Command, args []string) {
			selected := ""
			if appConfig != nil {
				selected = current(appConfig)
			}

			for _, t := range types() {
				mark := " "
				if string(t) == selected {
					mark = "*"
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, t)
			}
		},
	}
}

func registerBackendCommands() {
	dbCmd := &cobra.Command{Use: "db", Short: "database backends"}
	dbCmd.AddCommand(listTypesCmd("db", db.GetRegisteredDBTypes, func(c *configs.AppConfig) string {
		return string(c.DB.Type)
	}))

	kvCmd := &cobra.Command{Use: "kv", Short: "key-value backends"}
	kvCmd.AddCommand(listTypesCmd("kv", kv.GetRegisteredKVTypes, func(c *configs.AppConfig) string {
		return c.KV.GetKVType()
	}))

	mqCmd := &cobra.Command{Use: "mq", Short: "message queue backends"}
	mqCmd.AddCommand(listTypesCmd("mq", mq.RegisteredTypes, func(c *configs.AppConfig) string {
		return string(c.MQ.GetMQType())
	}))
	mqCmd.AddCommand(&cobra.Command{
		Use:   "topics",
		Short: "list the topics published and consumed by panvault",
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range queue.Topics() {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
		},
	})

	rootCmd.AddCommand(dbCmd, kvCmd, mqCmd)
}
