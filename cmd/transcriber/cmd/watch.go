package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ccp-p/media-transcriber/internal/controller"
	"github.com/ccp-p/media-transcriber/pkg/utils"
)

var (
	watchDir     string
	watchArchive string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "监控文件夹，自动转写新加入的媒体文件",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchDir != "" {
			cfg.WatchFolder = watchDir
		}
		if watchArchive != "" {
			cfg.ArchiveFolder = watchArchive
		}
		if err := utils.EnsureDirExists(cfg.WatchFolder); err != nil {
			return err
		}

		pc, err := controller.NewProcessorController(cfg, controller.Options{Out: cmd.OutOrStdout()})
		if err != nil {
			return err
		}
		defer pc.Cleanup()

		if err := pc.StartWatchMode(cfg.WatchFolder, cfg.ArchiveFolder); err != nil {
			return err
		}
		pc.PrintStats()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchDir, "dir", "", "监控的文件夹")
	watchCmd.Flags().StringVar(&watchArchive, "archive-dir", "", "处理成功后移动到的文件夹")
	rootCmd.AddCommand(watchCmd)
}
