package source

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"piktag/config"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("创建测试图片失败: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("编码测试图片失败: %v", err)
	}
	return path
}

func localConfig(root string) *config.Config {
	cfg := &config.Config{}
	cfg.Source.Kind = config.SourceKindLocal
	cfg.Source.Local.Path = root
	cfg.Source.Local.Recursive = true
	cfg.Source.Local.ScanWorkers = 2
	return cfg
}

func TestLocalConnectValidatesRoot(t *testing.T) {
	logger := zap.NewNop()

	l, err := NewLocal(localConfig(t.TempDir()), logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("有效目录连接失败: %v", err)
	}

	l, _ = NewLocal(localConfig("/nonexistent/piktag"), logger)
	if err := l.Connect(context.Background()); err == nil {
		t.Fatal("不存在的目录应连接失败")
	}
}

func TestLocalListRecursiveAndFlat(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png")
	writePNG(t, dir, "b.png")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writePNG(t, sub, "c.png")
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := localConfig(dir)
	l, err := NewLocal(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	items, err := l.List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("递归扫描应找到3个图片，实际%d", len(items))
	}

	cfg.Source.Local.Recursive = false
	l, _ = NewLocal(cfg, zap.NewNop())
	items, err = l.List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("非递归扫描应只找到顶层2个图片，实际%d", len(items))
	}
}

func TestLocalListReportsProgress(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png")
	writePNG(t, dir, "b.png")

	l, err := NewLocal(localConfig(dir), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	var last int
	_, err = l.List(context.Background(), func(fetched int) { last = fetched })
	if err != nil {
		t.Fatal(err)
	}
	if last != 2 {
		t.Fatalf("进度回调最终应报告2，实际%d", last)
	}
}

func TestApplyFiltersCapAfterFiltering(t *testing.T) {
	items := []*MediaItem{
		{ID: "1", Keywords: []string{"tagged"}},
		{ID: "2"},
		{ID: "3", Keywords: []string{"tagged"}},
		{ID: "4"},
		{ID: "5"},
	}

	filter := config.FilterConfig{UntaggedKeywordsOnly: true, MaxItems: 2}
	got := applyFilters(items, filter)
	if len(got) != 2 {
		t.Fatalf("上限应在过滤后生效，实际%d项", len(got))
	}
	if got[0].ID != "2" || got[1].ID != "4" {
		t.Fatalf("应返回前2个未标注条目，实际%s,%s", got[0].ID, got[1].ID)
	}
}

func TestApplyFiltersFieldPredicates(t *testing.T) {
	items := []*MediaItem{
		{ID: "1", Category: "Nature"},
		{ID: "2", Description: "done"},
		{ID: "3"},
	}

	got := applyFilters(items, config.FilterConfig{UntaggedCategoryOnly: true})
	if len(got) != 2 {
		t.Fatalf("无分类过滤应剩2项，实际%d", len(got))
	}

	got = applyFilters(items, config.FilterConfig{UntaggedDescriptionOnly: true})
	if len(got) != 2 {
		t.Fatalf("无描述过滤应剩2项，实际%d", len(got))
	}

	got = applyFilters(items, config.FilterConfig{})
	if len(got) != 3 {
		t.Fatal("无过滤条件应全部保留")
	}
}

func TestLocalSkipDuplicates(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png")
	writePNG(t, dir, "b.png")

	cfg := localConfig(dir)
	cfg.Source.Local.SkipDuplicates = true
	l, err := NewLocal(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	// 两张图内容完全相同，去重后只剩一张
	items, err := l.List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("相同图片应被去重，实际%d项", len(items))
	}
}
