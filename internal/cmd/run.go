package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"piktag/config"
	"piktag/core/engine"
	"piktag/core/metadata"
	"piktag/core/orchestrator"
	"piktag/core/session"
	"piktag/core/source"
	"piktag/internal/ui"
)

var (
	flagSourceKind string
	flagLocalPath  string
	flagMaxItems   int
	flagUntagged   bool
	flagYes        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动一次批量标注",
	Long: `按当前配置执行一次完整的批量标注：连接数据源、获取
待处理条目、初始化引擎、逐项推理并写入元数据。`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVar(&flagSourceKind, "source", "", "数据源类型 (local/dam)，覆盖配置文件")
	runCmd.Flags().StringVar(&flagLocalPath, "path", "", "本地图片目录，覆盖配置文件")
	runCmd.Flags().IntVar(&flagMaxItems, "max-items", 0, "最多处理的条目数，0表示不限")
	runCmd.Flags().BoolVar(&flagUntagged, "untagged-only", false, "只处理没有关键词的图片")
	runCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "跳过启动前确认")

	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	applyFlagOverrides()
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if !flagYes {
		ok, err := confirmLaunch()
		if err != nil || !ok {
			log.Info("用户取消启动")
			return nil
		}
	}

	src, err := source.New(cfg, log)
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}
	writer := metadata.NewWriter(log, cfg)

	store, err := session.NewStore(log, cfg.Advanced.SessionDBPath)
	if err != nil {
		log.Warn("会话存储不可用，本次运行不持久化", zap.Error(err))
		store = nil
	} else {
		defer store.Close()
	}

	orch := orchestrator.New(log, cfg, src, eng, writer, store)
	ui.NewDisplay(cfg.Advanced.UI, orch.Notifier())

	// Ctrl+C触发优雅取消
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			log.Info("收到中断信号，正在取消")
			orch.Stop()
		}
	}()

	sess := session.NewSession()
	log.Info("启动批量标注",
		zap.String("session_id", sess.ID),
		zap.String("source", cfg.Source.Kind))
	orch.Start(sess)

	_, processed, failed := sess.Counts()
	if failed > 0 {
		return fmt.Errorf("批处理结束: 成功%d项, 失败%d项", processed, failed)
	}
	return nil
}

// applyFlagOverrides 命令行旗标优先于配置文件
func applyFlagOverrides() {
	if flagSourceKind != "" {
		cfg.Source.Kind = flagSourceKind
	}
	if flagLocalPath != "" {
		cfg.Source.Local.Path = flagLocalPath
	}
	if flagMaxItems > 0 {
		cfg.Source.Filter.MaxItems = flagMaxItems
	}
	if flagUntagged {
		cfg.Source.Filter.UntaggedKeywordsOnly = true
	}
}

func confirmLaunch() (bool, error) {
	target := cfg.Source.Local.Path
	if cfg.Source.Kind == config.SourceKindDAM {
		target = cfg.Source.DAM.BaseURL
	}
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("将对 %s 执行批量标注，确认启动", target),
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if err == promptui.ErrAbort {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
