package engine

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"piktag/config"
)

func validEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		Provider: "builtin",
		ModelID:  "piktag-vision-v1",
		TaskType: TaskFull,
		Device:   "auto",
	}
}

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFactoryDispatch(t *testing.T) {
	if _, err := New(validEngineConfig()); err != nil {
		t.Fatalf("builtin引擎创建失败: %v", err)
	}

	cfg := validEngineConfig()
	cfg.Provider = ""
	if _, err := New(cfg); err != nil {
		t.Fatalf("空提供方应落到builtin: %v", err)
	}

	cfg.Provider = "onnx-turbo"
	_, err := New(cfg)
	if err == nil {
		t.Fatal("未知提供方应报错")
	}
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("错误应归类为配置非法: %v", err)
	}
}

func TestBuiltinLifecycle(t *testing.T) {
	eng := NewBuiltin()
	if eng.Ready() {
		t.Fatal("初始化前不应就绪")
	}

	path := writePNG(t, t.TempDir(), "a.png")
	if _, err := eng.Process(context.Background(), path); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("未初始化时处理应报ErrNotInitialized: %v", err)
	}

	var progress []string
	err := eng.Initialize(context.Background(), validEngineConfig(), func(msg string) {
		progress = append(progress, msg)
	})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	if !eng.Ready() {
		t.Fatal("初始化后应就绪")
	}
	if len(progress) == 0 {
		t.Fatal("初始化应报告进度")
	}

	result, err := eng.Process(context.Background(), path)
	if err != nil {
		t.Fatalf("处理失败: %v", err)
	}
	if result.Category == "" || len(result.Keywords) == 0 || result.Description == "" {
		t.Fatalf("占位结果三个字段都应非空: %+v", result)
	}
}

func TestBuiltinInitializeRejectsBadConfig(t *testing.T) {
	eng := NewBuiltin()

	cfg := validEngineConfig()
	cfg.ModelID = ""
	if err := eng.Initialize(context.Background(), cfg, nil); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("缺少model_id应报配置非法: %v", err)
	}

	cfg = validEngineConfig()
	cfg.TaskType = "translate"
	if err := eng.Initialize(context.Background(), cfg, nil); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("非法任务类型应报配置非法: %v", err)
	}

	cfg = validEngineConfig()
	cfg.ModelDir = "/nonexistent/models"
	if err := eng.Initialize(context.Background(), cfg, nil); !errors.Is(err, ErrModelFilesNotFound) {
		t.Fatalf("模型目录缺失应报ErrModelFilesNotFound: %v", err)
	}

	cfg = validEngineConfig()
	cfg.Device = "quantum"
	if err := eng.Initialize(context.Background(), cfg, nil); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("非法设备应报配置非法: %v", err)
	}

	if eng.Ready() {
		t.Fatal("初始化失败后不应就绪")
	}
}

func TestBuiltinProcessErrorTaxonomy(t *testing.T) {
	eng := NewBuiltin()
	if err := eng.Initialize(context.Background(), validEngineConfig(), nil); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.Process(context.Background(), "/nonexistent/a.jpg"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("文件缺失应报ErrFileNotFound: %v", err)
	}

	dir := t.TempDir()
	doc := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(doc, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Process(context.Background(), doc); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("非图片扩展名应报ErrUnsupportedFormat: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writePNG(t, dir, "b.png")
	if _, err := eng.Process(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消应透传context.Canceled: %v", err)
	}
}

func TestNormalizeKeywords(t *testing.T) {
	got := NormalizeKeywords([]string{" Tree ", "tree", "SKY", "", "sky", "hill"})
	want := []string{"tree", "sky", "hill"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("规范化结果错误: got=%v want=%v", got, want)
	}
}
