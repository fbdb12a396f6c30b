package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"piktag/config"
	"piktag/internal/logger"
	"piktag/internal/version"
)

// 全局变量
var (
	cfgFile string
	verbose bool
	log     *zap.Logger
	manager *config.Manager
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "piktag",
	Short: "Piktag - AI批量图片标注工具",
	Long: `Piktag ` + version.GetVersionWithPrefix() + `
批量扫描本地文件夹或远程资产库中的图片，用AI引擎生成
分类、关键词和描述，写入图片内嵌元数据并可回写到服务器。`,
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	// 此时构建信息已由main注入
	rootCmd.Version = version.GetFullVersionInfo()
	defer func() {
		if log != nil {
			_ = log.Sync()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initRuntime)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认 $HOME/.piktag.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出详细日志")
}

// initRuntime 初始化日志与配置，供所有子命令复用
func initRuntime() {
	var err error
	log, err = logger.NewLogger(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	manager, err = config.NewManager(cfgFile, log)
	if err != nil {
		log.Error("加载配置失败", zap.Error(err))
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg = manager.GetConfig()

	if cfg.Advanced.EnableHotReload {
		manager.EnableHotReload()
	}
}
