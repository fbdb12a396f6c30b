package source

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bep/imagemeta"
	"github.com/corona10/goimagehash"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"piktag/config"
)

// 本地扫描接受的图片扩展名
var localExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// 感知哈希距离阈值，小于等于该值视为重复
const duplicateDistance = 10

// Local 本地文件夹数据源
type Local struct {
	logger *zap.Logger
	root   string
	cfg    config.LocalSourceConfig
	filter config.FilterConfig
}

// NewLocal 创建本地数据源
func NewLocal(cfg *config.Config, logger *zap.Logger) (*Local, error) {
	return &Local{
		logger: logger,
		root:   cfg.Source.Local.Path,
		cfg:    cfg.Source.Local,
		filter: cfg.Source.Filter,
	}, nil
}

// Kind 返回数据源类型标识
func (l *Local) Kind() string {
	return config.SourceKindLocal
}

// Connect 校验根目录可访问
func (l *Local) Connect(ctx context.Context) error {
	if l.root == "" {
		return os.ErrNotExist
	}
	info, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "connect", Path: l.root, Err: os.ErrInvalid}
	}
	return ctx.Err()
}

// Count 返回未过滤的文件数预估
func (l *Local) Count(ctx context.Context) int {
	paths, err := l.scanPaths(ctx)
	if err != nil {
		return 0
	}
	return len(paths)
}

// List 枚举并读取本地图片
// 文件发现按路径排序保证稳定顺序；内嵌元数据读取在
// worker池里并发，结果按发现顺序重组后再过滤、去重、截断。
func (l *Local) List(ctx context.Context, onProgress func(fetched int)) ([]*MediaItem, error) {
	paths, err := l.scanPaths(ctx)
	if err != nil {
		return nil, err
	}

	workers := l.cfg.ScanWorkers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	items := make([]*MediaItem, len(paths))
	var wg sync.WaitGroup
	var fetched int
	var progressMu sync.Mutex

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		i, path := i, path
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			items[i] = l.readItem(path)
			if onProgress != nil {
				progressMu.Lock()
				fetched++
				onProgress(fetched)
				progressMu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			items[i] = l.readItem(path)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*MediaItem, 0, len(items))
	for _, item := range items {
		if item != nil {
			ordered = append(ordered, item)
		}
	}

	filtered := applyFilters(ordered, l.filter)
	if l.cfg.SkipDuplicates {
		filtered = l.dropDuplicates(ctx, filtered)
	}
	return filtered, nil
}

// FetchThumbnail 本地图片直接用原图
func (l *Local) FetchThumbnail(ctx context.Context, itemID string, maxWidth, maxHeight int) (string, error) {
	return "", nil
}

// PushUpdate 本地数据源无远端，恒为成功
func (l *Local) PushUpdate(ctx context.Context, itemID, category string, keywords []string, description string) bool {
	return true
}

// scanPaths 按配置枚举图片文件路径
func (l *Local) scanPaths(ctx context.Context) ([]string, error) {
	var paths []string

	if l.cfg.Recursive {
		err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() {
				return nil
			}
			if localExtensions[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(l.root)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if localExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				paths = append(paths, filepath.Join(l.root, entry.Name()))
			}
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// readItem 读取单个文件的基本信息与既有元数据
func (l *Local) readItem(path string) *MediaItem {
	info, err := os.Stat(path)
	if err != nil {
		l.logger.Warn("无法读取文件信息", zap.String("path", path), zap.Error(err))
		return nil
	}

	item := &MediaItem{
		ID:         path,
		Path:       path,
		Name:       filepath.Base(path),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}
	l.fillEmbeddedMetadata(item)
	return item
}

// fillEmbeddedMetadata 读取图片内嵌的既有标注
// 读取失败只记日志，条目仍然视为未标注参与处理。
func (l *Local) fillEmbeddedMetadata(item *MediaItem) {
	f, err := os.Open(item.Path)
	if err != nil {
		return
	}
	defer f.Close()

	err = imagemeta.Decode(imagemeta.Options{
		R:       f,
		Sources: imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			switch ti.Tag {
			case "Subject", "Category", "Description", "ImageDescription", "Keywords":
				return true
			}
			return false
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			switch ti.Tag {
			case "Subject", "Keywords":
				item.Keywords = append(item.Keywords, tagStrings(ti.Value)...)
			case "Category":
				if item.Category == "" {
					item.Category = tagString(ti.Value)
				}
			case "Description", "ImageDescription":
				if item.Description == "" {
					item.Description = tagString(ti.Value)
				}
			}
			return nil
		},
	})
	if err != nil {
		l.logger.Debug("读取内嵌元数据失败",
			zap.String("path", item.Path),
			zap.Error(err))
	}
	if len(item.Keywords) > 0 {
		item.Processed = true
	}
}

// dropDuplicates 用感知哈希跳过视觉重复的图片
// 哈希失败的图片直接保留，去重只做尽力而为。
func (l *Local) dropDuplicates(ctx context.Context, items []*MediaItem) []*MediaItem {
	var kept []*MediaItem
	var hashes []*goimagehash.ImageHash

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		hash, err := hashImage(item.Path)
		if err != nil {
			kept = append(kept, item)
			continue
		}

		duplicate := false
		for _, prev := range hashes {
			if dist, err := hash.Distance(prev); err == nil && dist <= duplicateDistance {
				duplicate = true
				break
			}
		}
		if duplicate {
			l.logger.Info("跳过重复图片", zap.String("path", item.Path))
			continue
		}
		hashes = append(hashes, hash)
		kept = append(kept, item)
	}
	return kept
}

func hashImage(path string) (*goimagehash.ImageHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return goimagehash.DifferenceHash(img)
}

func tagString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []string:
		if len(val) > 0 {
			return strings.TrimSpace(val[0])
		}
	}
	return ""
}

func tagStrings(v any) []string {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	case []string:
		var out []string
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		var out []string
		for _, elem := range val {
			if s, ok := elem.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
	return nil
}
