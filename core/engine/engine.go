package engine

import (
	"context"
	"errors"
	"fmt"

	"piktag/config"
)

// Result 单张图片的推理结果
type Result struct {
	Category    string
	Keywords    []string
	Description string
}

// Engine 推理引擎契约
// Initialize在每轮运行开始时调用；Process对单张图片推理；
// Ready报告引擎是否已完成初始化。
type Engine interface {
	Initialize(ctx context.Context, cfg config.EngineConfig, onProgress func(string)) error
	Process(ctx context.Context, imagePath string) (*Result, error)
	Ready() bool
}

// 初始化阶段错误
var (
	ErrConfigInvalid      = errors.New("engine configuration invalid")
	ErrModelLoadFailed    = errors.New("model load failed")
	ErrModelFilesNotFound = errors.New("model files not found")
)

// 推理阶段错误
var (
	ErrNotInitialized    = errors.New("engine not initialized")
	ErrFileNotFound      = errors.New("image file not found")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// New 按配置的提供方创建引擎实例
// 显式按类型标签分发，未知提供方直接报错。
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Provider {
	case "builtin", "":
		return NewBuiltin(), nil
	default:
		return nil, fmt.Errorf("未知的引擎提供方 %q: %w", cfg.Provider, ErrConfigInvalid)
	}
}
