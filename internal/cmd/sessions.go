package cmd

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"piktag/core/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "查看历史运行记录",
	RunE:  listSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func listSessions(cmd *cobra.Command, args []string) error {
	store, err := session.NewStore(log, cfg.Advanced.SessionDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		pterm.Info.Println("暂无运行记录")
		return nil
	}

	rows := pterm.TableData{
		{"会话", "数据源", "状态", "总数", "成功", "失败", "更新时间"},
	}
	for _, run := range runs {
		rows = append(rows, []string{
			run.SessionID,
			run.SourceKind,
			run.State,
			strconv.Itoa(run.TotalItems),
			strconv.Itoa(run.Processed),
			strconv.Itoa(run.Failed),
			run.LastUpdate.Format("2006-01-02 15:04:05"),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		log.Warn("渲染表格失败", zap.Error(err))
	}
	return nil
}
