package metadata

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"piktag/config"
)

// CommandRunner 执行外部命令并返回合并输出
// 注入点：测试用假运行器替换真实exiftool。
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Writer 图片元数据写入器
// 通过exiftool把分类/关键词/描述写入图片内嵌元数据，
// 瞬时失败按线性倍数退避重试。
type Writer struct {
	logger    *zap.Logger
	exiftool  string
	baseDelay time.Duration
	run       CommandRunner
}

// NewWriter 创建元数据写入器
func NewWriter(logger *zap.Logger, cfg *config.Config) *Writer {
	base := time.Duration(cfg.Processing.RetryBaseDelayMS) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	tool := cfg.Tools.ExiftoolPath
	if tool == "" {
		tool = "exiftool"
	}
	return &Writer{
		logger:    logger,
		exiftool:  tool,
		baseDelay: base,
		run:       defaultRunner,
	}
}

// SetRunner 替换命令运行器
func (w *Writer) SetRunner(run CommandRunner) {
	if run != nil {
		w.run = run
	}
}

// Validate 检查文件是否为可写入的有效图片
// 返回是否有效以及给用户看的原因说明。
func (w *Writer) Validate(path string) (bool, string) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Sprintf("文件不存在: %s", path)
	}
	if info.IsDir() {
		return false, fmt.Sprintf("不是文件: %s", path)
	}
	if info.Size() == 0 {
		return false, fmt.Sprintf("文件为空: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Sprintf("无法打开文件: %v", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return false, fmt.Sprintf("无法识别的图片格式: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return false, fmt.Sprintf("图片尺寸非法: %dx%d (%s)", cfg.Width, cfg.Height, format)
	}
	return true, "ok"
}

// Write 把标注结果写入图片元数据
// 关键词与分类写入XMP标签块，描述同时写入EXIF与XMP。
// 最多尝试maxRetries次，第n次失败后等待baseDelay*n，
// 等待期间观察ctx取消。只有确认成功才返回true。
func (w *Writer) Write(ctx context.Context, path, category string, keywords []string, description string, maxRetries int) bool {
	if maxRetries < 1 {
		maxRetries = 1
	}
	args := w.buildArgs(path, category, keywords, description)

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		output, err := w.run(ctx, w.exiftool, args...)
		if err == nil {
			w.logger.Debug("元数据写入成功",
				zap.String("path", path),
				zap.Int("attempt", attempt))
			return true
		}

		w.logger.Warn("元数据写入失败",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.String("output", string(output)),
			zap.Error(err))

		if attempt == maxRetries {
			break
		}

		delay := w.baseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return false
}

func (w *Writer) buildArgs(path, category string, keywords []string, description string) []string {
	args := []string{"-overwrite_original", "-XMP-dc:Subject="}
	for _, kw := range keywords {
		args = append(args, "-XMP-dc:Subject+="+kw)
	}
	if category != "" {
		args = append(args, "-XMP-photoshop:Category="+category)
	}
	if description != "" {
		args = append(args,
			"-IFD0:ImageDescription="+description,
			"-XMP-dc:Description="+description)
	}
	return append(args, path)
}
