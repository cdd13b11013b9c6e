package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 不带子命令直接运行时等价于 serve
var rootCmd = &cobra.Command{
	Use:   "latentvault",
	Short: "Self-hosted library for AI-generated images",
	Long: `latentvault stores AI-generated images together with the metadata
embedded by their generators, and serves a browsable, taggable library
over HTTP. Run without a subcommand to start the server.`,
	Run: func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	},
}

// Execute 运行命令行入口
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (eg: /etc/latentvault/config.yaml)")
	_ = viper.BindPFlag("config_file_path", rootCmd.PersistentFlags().Lookup("config"))
}
