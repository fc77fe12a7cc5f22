package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccp-p/media-transcriber/pkg/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "查看或生成配置文件",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "打印当前生效的配置",
	Run: func(cmd *cobra.Command, args []string) {
		cfg.PrintConfig()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init <路径>",
	Short: "按扩展名生成默认配置文件 (.json/.yaml/.toml)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.NewDefaultConfig().SaveToFile(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "已生成配置文件: %s\n", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
