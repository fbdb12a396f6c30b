package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LogDir = dir
	cfg.Verbose = true

	log, err := NewLoggerWithConfig(cfg)
	if err != nil {
		t.Fatalf("创建logger失败: %v", err)
	}
	log.Info("测试消息")
	_ = log.Sync()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("应生成日志文件")
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".log" {
		t.Fatalf("日志文件扩展名错误: %s", name)
	}
}

func TestNewLoggerConsoleOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableFile = false
	cfg.LogLevel = zapcore.InfoLevel

	log, err := NewLoggerWithConfig(cfg)
	if err != nil {
		t.Fatalf("创建logger失败: %v", err)
	}
	log.Info("仅控制台")
}

func TestCreateComponentLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableFile = false
	log, err := NewLoggerWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	child := CreateComponentLogger(log, "orchestrator")
	if child == nil {
		t.Fatal("组件logger不应为nil")
	}
	child.Info("来自组件")
}
