package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"piktag/config"
)

// 任务类型
const (
	TaskTagging    = "tagging"
	TaskCaptioning = "captioning"
	TaskFull       = "full"
)

// builtinExtensions 内置引擎接受的图片格式
var builtinExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// Builtin 内置推理引擎
// 占位实现：返回固定的演示标注，用于在没有真实模型的环境下
// 走通完整的处理管线。真实引擎通过Engine契约接入。
type Builtin struct {
	mutex  sync.RWMutex
	ready  bool
	cfg    config.EngineConfig
	device string
}

// NewBuiltin 创建内置引擎实例
func NewBuiltin() *Builtin {
	return &Builtin{}
}

// Initialize 初始化引擎：验证配置、解析计算设备
func (b *Builtin) Initialize(ctx context.Context, cfg config.EngineConfig, onProgress func(string)) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.ready = false
	report := func(msg string) {
		if onProgress != nil {
			onProgress(msg)
		}
	}

	report("正在验证引擎配置…")
	if cfg.ModelID == "" {
		return fmt.Errorf("model_id 不能为空: %w", ErrConfigInvalid)
	}
	switch cfg.TaskType {
	case TaskTagging, TaskCaptioning, TaskFull, "":
	default:
		return fmt.Errorf("未知的任务类型 %q: %w", cfg.TaskType, ErrConfigInvalid)
	}

	// 指定了模型目录时必须真实存在
	if cfg.ModelDir != "" {
		info, err := os.Stat(cfg.ModelDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("模型目录 %q 不可用: %w", cfg.ModelDir, ErrModelFilesNotFound)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	device, detail := resolveDevice(cfg.Device)
	if device == "" {
		return fmt.Errorf("未知的计算设备 %q: %w", cfg.Device, ErrConfigInvalid)
	}
	report("计算设备: " + device + " (" + detail + ")")

	report("正在加载模型 " + cfg.ModelID + "…")
	if err := ctx.Err(); err != nil {
		return err
	}

	b.cfg = cfg
	b.device = device
	b.ready = true
	report("引擎就绪")
	return nil
}

// Process 对单张图片推理
func (b *Builtin) Process(ctx context.Context, imagePath string) (*Result, error) {
	b.mutex.RLock()
	ready := b.ready
	b.mutex.RUnlock()

	if !ready {
		return nil, ErrNotInitialized
	}

	info, err := os.Stat(imagePath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%s: %w", imagePath, ErrFileNotFound)
	}
	ext := strings.ToLower(filepath.Ext(imagePath))
	if !builtinExtensions[ext] {
		return nil, fmt.Errorf("%s: %w", ext, ErrUnsupportedFormat)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 占位推理结果
	return &Result{
		Category:    "Uncategorized",
		Keywords:    NormalizeKeywords([]string{"auto-tagged", "piktag", "demo"}),
		Description: "Automatically generated description for " + filepath.Base(imagePath),
	}, nil
}

// Ready 报告引擎是否已初始化
func (b *Builtin) Ready() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.ready
}

// resolveDevice 解析计算设备
// auto根据宿主机资源选择；返回空字符串表示设备名非法。
func resolveDevice(device string) (resolved, detail string) {
	switch device {
	case "cpu", "gpu":
		return device, "手动指定"
	case "auto", "":
	default:
		return "", ""
	}

	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = 1
	}

	var memDetail string
	if vm, err := mem.VirtualMemory(); err == nil {
		memDetail = strconv.FormatUint(vm.Total/(1024*1024*1024), 10) + "GB内存"
	} else {
		memDetail = "内存未知"
	}

	// 占位引擎没有GPU路径，auto一律落到CPU
	return "cpu", strconv.Itoa(cores) + "核 " + memDetail
}
