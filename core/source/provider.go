package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"piktag/config"
)

// MediaItem 待处理的媒体条目
// 本地条目Path为绝对路径；远程条目Path为服务端标识，Remote为true。
type MediaItem struct {
	ID          string
	Path        string
	Name        string
	Size        int64
	ModifiedAt  time.Time
	Category    string
	Keywords    []string
	Description string
	Flagged     bool
	Rejected    bool
	Processed   bool
	Remote      bool
}

// Provider 数据源契约
// List是权威结果（已应用过滤与上限），Count仅用于预估。
type Provider interface {
	// Connect 建立数据源连接，失败即整批终止
	Connect(ctx context.Context) error
	// Count 返回条目数预估，失败时降级为0
	Count(ctx context.Context) int
	// List 枚举条目，onProgress报告已获取数量
	List(ctx context.Context, onProgress func(fetched int)) ([]*MediaItem, error)
	// FetchThumbnail 获取缩略图本地路径，空串表示直接用原图
	FetchThumbnail(ctx context.Context, itemID string, maxWidth, maxHeight int) (string, error)
	// PushUpdate 把标注结果回写到数据源
	PushUpdate(ctx context.Context, itemID, category string, keywords []string, description string) bool
	// Kind 返回数据源类型标识
	Kind() string
}

// New 按配置的类型标签创建数据源
// 显式分发，未知类型直接报错而不是静默兜底。
func New(cfg *config.Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Source.Kind {
	case config.SourceKindLocal:
		return NewLocal(cfg, logger)
	case config.SourceKindDAM:
		return NewDAM(cfg, logger)
	default:
		return nil, fmt.Errorf("未知的数据源类型: %q", cfg.Source.Kind)
	}
}

// applyFilters 应用未标注过滤器，再施加数量上限
// 上限必须在过滤之后生效，保证返回的是前N个符合条件的条目。
func applyFilters(items []*MediaItem, filter config.FilterConfig) []*MediaItem {
	filtered := make([]*MediaItem, 0, len(items))
	for _, item := range items {
		if filter.UntaggedKeywordsOnly && len(item.Keywords) > 0 {
			continue
		}
		if filter.UntaggedCategoryOnly && item.Category != "" {
			continue
		}
		if filter.UntaggedDescriptionOnly && item.Description != "" {
			continue
		}
		filtered = append(filtered, item)
	}
	if filter.MaxItems > 0 && len(filtered) > filter.MaxItems {
		filtered = filtered[:filter.MaxItems]
	}
	return filtered
}
