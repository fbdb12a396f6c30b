package ui

import (
	"fmt"
	"os"
	"sync"

	"github.com/pterm/pterm"
	"golang.org/x/term"

	"piktag/config"
	"piktag/core/orchestrator"
	"piktag/core/session"
)

// Display 批处理进度展示
// 订阅编排器的通知，在终端渲染进度条与日志行。
// 静默模式或禁用UI时退化为纯文本输出。
type Display struct {
	cfg    config.UIConfig
	mutex  sync.Mutex
	bar    *pterm.ProgressbarPrinter
	simple bool
}

// NewDisplay 创建进度展示并注册到通知分发器
func NewDisplay(cfg config.UIConfig, notifier *orchestrator.Notifier) *Display {
	d := &Display{
		cfg:    cfg,
		simple: cfg.DisableUI || !isInteractiveTerminal(),
	}

	notifier.OnLog(d.handleLog)
	notifier.OnProgress(d.handleProgress)
	notifier.OnItemCompleted(d.handleItem)
	notifier.OnRunCompleted(d.handleDone)
	return d
}

func isInteractiveTerminal() bool {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	return err == nil && width > 0
}

func (d *Display) handleLog(msg string) {
	if d.cfg.SilentMode {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.simple {
		fmt.Println(msg)
		return
	}
	pterm.Info.Println(msg)
}

func (d *Display) handleProgress(p orchestrator.Progress) {
	if d.cfg.SilentMode {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.simple {
		fmt.Printf("进度: %d/%d (%d%%)\n", p.Current, p.Total, p.Percent)
		return
	}

	if d.bar == nil {
		bar, err := pterm.DefaultProgressbar.WithTotal(p.Total).WithTitle("正在标注").Start()
		if err != nil {
			d.simple = true
			return
		}
		bar.BarStyle = &pterm.Style{pterm.FgLightBlue, pterm.BgDefault}
		bar.TitleStyle = &pterm.Style{pterm.FgLightCyan, pterm.Bold}
		d.bar = bar
	}
	if p.Current > d.bar.Current {
		d.bar.Add(p.Current - d.bar.Current)
	}
}

func (d *Display) handleItem(r *session.Result) {
	if d.cfg.SilentMode || r.Success {
		return
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.simple {
		fmt.Printf("失败: %s (%s)\n", r.FilePath, r.Error)
		return
	}
	pterm.Warning.Printfln("失败: %s (%s)", r.FilePath, r.Error)
}

func (d *Display) handleDone() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.bar != nil {
		d.bar.Stop()
		d.bar = nil
	}
}
