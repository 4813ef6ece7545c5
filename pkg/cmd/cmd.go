// Package cmd contains the command line applications for the project.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/yeisme/panvault/pkg/app"
	"github.com/yeisme/panvault/pkg/configs"
)

var (
	configPath string
	debug      bool

	// appConfig 由 PersistentPreRunE 加载.
	appConfig *configs.AppConfig

	rootCmd = &cobra.Command{
		Use:          "panvault",
		Short:        "A chunked-upload cloud drive with instant upload and per-user quotas",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				// 环境变量优先于配置文件
				if err := os.Setenv(configs.EnvPrefix+"_SERVER_DEBUG", "true"); err != nil {
					return err
				}
			}

			cfg, err := app.Bootstrap(configPath)
			if err != nil {
				return err
			}

			appConfig = cfg

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "config file or directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug mode")

	registerServeCommands()
	registerOpsCommands()
	registerConfigsCommands()
	registerBackendCommands()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
