package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"piktag/config"
)

// 服务器端每页上限
const damMaxPageSize = 200

// DAM 远程资产管理服务器数据源
// Connect时用账号密码换取bearer令牌，后续调用复用。
type DAM struct {
	logger *zap.Logger
	cfg    config.DAMSourceConfig
	filter config.FilterConfig
	client *http.Client
	token  string
}

// damAsset 服务端返回的资产记录
type damAsset struct {
	ID          string   `json:"id"`
	FileName    string   `json:"fileName"`
	FileSize    int64    `json:"fileSize"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
	Flagged     bool     `json:"flagged"`
	Rejected    bool     `json:"rejected"`
	Processed   bool     `json:"processed"`
}

type damListResponse struct {
	Assets []damAsset `json:"assets"`
	Total  int        `json:"total"`
}

// NewDAM 创建远程数据源
func NewDAM(cfg *config.Config, logger *zap.Logger) (*DAM, error) {
	dam := cfg.Source.DAM
	if dam.BaseURL == "" {
		return nil, fmt.Errorf("DAM数据源缺少 base_url")
	}
	timeout := time.Duration(dam.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DAM{
		logger: logger,
		cfg:    dam,
		filter: cfg.Source.Filter,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Kind 返回数据源类型标识
func (d *DAM) Kind() string {
	return config.SourceKindDAM
}

// Connect 登录并缓存访问令牌
func (d *DAM) Connect(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": d.cfg.Username,
		"password": d.cfg.Password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(d.cfg.BaseURL, "/")+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("DAM登录请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("DAM登录被拒绝: HTTP %d", resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("解析登录响应失败: %w", err)
	}
	if loginResp.Token == "" {
		return fmt.Errorf("DAM登录响应缺少令牌")
	}
	d.token = loginResp.Token
	d.logger.Info("DAM连接成功", zap.String("base_url", d.cfg.BaseURL))
	return nil
}

// Count 查询条目总数预估，失败降级为0
func (d *DAM) Count(ctx context.Context) int {
	query := d.scopeQuery()
	query.Set("limit", "1")
	query.Set("offset", "0")

	var resp damListResponse
	if err := d.getJSON(ctx, "/api/v1/assets", query, &resp); err != nil {
		d.logger.Warn("查询条目总数失败", zap.Error(err))
		return 0
	}
	return resp.Total
}

// List 分页拉取资产并应用过滤与上限
func (d *DAM) List(ctx context.Context, onProgress func(fetched int)) ([]*MediaItem, error) {
	pageSize := d.cfg.PageSize
	if pageSize < 1 || pageSize > damMaxPageSize {
		pageSize = damMaxPageSize
	}

	var all []*MediaItem
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		query := d.scopeQuery()
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		var resp damListResponse
		if err := d.getJSON(ctx, "/api/v1/assets", query, &resp); err != nil {
			return nil, fmt.Errorf("拉取资产列表失败: %w", err)
		}

		for _, asset := range resp.Assets {
			all = append(all, &MediaItem{
				ID:          asset.ID,
				Path:        asset.ID,
				Name:        asset.FileName,
				Size:        asset.FileSize,
				Category:    asset.Category,
				Keywords:    asset.Keywords,
				Description: asset.Description,
				Flagged:     asset.Flagged,
				Rejected:    asset.Rejected,
				Processed:   asset.Processed,
				Remote:      true,
			})
		}
		if onProgress != nil {
			onProgress(len(all))
		}

		if len(resp.Assets) < pageSize {
			break
		}
		offset += len(resp.Assets)
	}

	return applyFilters(all, d.filter), nil
}

// FetchThumbnail 下载缩略图到临时文件并返回路径
func (d *DAM) FetchThumbnail(ctx context.Context, itemID string, maxWidth, maxHeight int) (string, error) {
	query := url.Values{}
	query.Set("maxWidth", strconv.Itoa(maxWidth))
	query.Set("maxHeight", strconv.Itoa(maxHeight))

	req, err := d.newRequest(ctx, http.MethodGet,
		"/api/v1/assets/"+url.PathEscape(itemID)+"/thumbnail", query, nil)
	if err != nil {
		return "", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("下载缩略图失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("下载缩略图失败: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "piktag_thumb_*.jpg")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// PushUpdate 把标注结果回写到服务器
func (d *DAM) PushUpdate(ctx context.Context, itemID, category string, keywords []string, description string) bool {
	body, err := json.Marshal(map[string]any{
		"category":    category,
		"keywords":    keywords,
		"description": description,
	})
	if err != nil {
		return false
	}

	req, err := d.newRequest(ctx, http.MethodPut,
		"/api/v1/assets/"+url.PathEscape(itemID)+"/metadata", nil, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("回写标注失败", zap.String("item_id", itemID), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("回写标注被拒绝",
			zap.String("item_id", itemID),
			zap.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// scopeQuery 按配置的范围选择器构造查询参数
// 四种范围互斥，配置层已校验。
func (d *DAM) scopeQuery() url.Values {
	query := url.Values{}
	switch d.cfg.Scope {
	case config.ScopeSavedSearch:
		query.Set("savedSearchId", d.cfg.SavedSearchID)
	case config.ScopeCollection:
		query.Set("collectionId", d.cfg.CollectionID)
	case config.ScopeQuery:
		query.Set("q", d.cfg.Query)
	}
	if d.cfg.StatusFilter != "" {
		query.Set("status", d.cfg.StatusFilter)
	}
	return query
}

func (d *DAM) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := strings.TrimRight(d.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	return req, nil
}

func (d *DAM) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := d.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
