package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// 数据源类型
const (
	SourceKindLocal = "local"
	SourceKindDAM   = "dam"
)

// DAM检索范围
const (
	ScopeAll         = "all"
	ScopeSavedSearch = "saved_search"
	ScopeCollection  = "collection"
	ScopeQuery       = "query"
)

// Config 应用配置结构
type Config struct {
	// 数据源设置
	Source SourceConfig `mapstructure:"source"`

	// 推理引擎设置
	Engine EngineConfig `mapstructure:"engine"`

	// 处理流程设置
	Processing ProcessingConfig `mapstructure:"processing"`

	// 外部工具路径
	Tools ToolsConfig `mapstructure:"tools"`

	// 日志设置
	Logging LoggingConfig `mapstructure:"logging"`

	// 高级设置
	Advanced AdvancedConfig `mapstructure:"advanced"`
}

// SourceConfig 数据源配置
type SourceConfig struct {
	// 数据源类型 (local, dam)
	Kind string `mapstructure:"kind"`

	// 本地文件夹数据源
	Local LocalSourceConfig `mapstructure:"local"`

	// 远程DAM数据源
	DAM DAMSourceConfig `mapstructure:"dam"`

	// 项目过滤设置
	Filter FilterConfig `mapstructure:"filter"`
}

// LocalSourceConfig 本地文件夹数据源配置
type LocalSourceConfig struct {
	// 扫描根目录
	Path string `mapstructure:"path"`

	// 是否递归扫描子目录
	Recursive bool `mapstructure:"recursive"`

	// 元数据读取并发数
	ScanWorkers int `mapstructure:"scan_workers"`

	// 是否跳过感知哈希重复的图片
	SkipDuplicates bool `mapstructure:"skip_duplicates"`
}

// DAMSourceConfig 远程DAM数据源配置
type DAMSourceConfig struct {
	// 服务器地址
	BaseURL string `mapstructure:"base_url"`

	// 登录凭据
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// 检索范围 (all, saved_search, collection, query)
	Scope string `mapstructure:"scope"`

	// 保存的检索ID（scope=saved_search时必填）
	SavedSearchID string `mapstructure:"saved_search_id"`

	// 共享收藏集ID（scope=collection时必填）
	CollectionID string `mapstructure:"collection_id"`

	// 自由文本查询（scope=query时必填）
	Query string `mapstructure:"query"`

	// 状态过滤（空表示不过滤）
	StatusFilter string `mapstructure:"status_filter"`

	// 分页大小（上限200，由服务器端约束决定）
	PageSize int `mapstructure:"page_size"`

	// 请求超时（秒）
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// 远端更新失败是否记为条目失败
	PushFailureFails bool `mapstructure:"push_failure_fails"`
}

// FilterConfig 项目过滤配置
type FilterConfig struct {
	// 仅处理无关键词的项目
	UntaggedKeywordsOnly bool `mapstructure:"untagged_keywords_only"`

	// 仅处理无分类的项目
	UntaggedCategoryOnly bool `mapstructure:"untagged_category_only"`

	// 仅处理无描述的项目
	UntaggedDescriptionOnly bool `mapstructure:"untagged_description_only"`

	// 最大处理数量（0表示不限制，过滤后生效）
	MaxItems int `mapstructure:"max_items"`
}

// EngineConfig 推理引擎配置
type EngineConfig struct {
	// 引擎提供方 (builtin)
	Provider string `mapstructure:"provider"`

	// 模型标识
	ModelID string `mapstructure:"model_id"`

	// 模型文件目录（空表示内置权重）
	ModelDir string `mapstructure:"model_dir"`

	// 任务类型 (tagging, captioning, full)
	TaskType string `mapstructure:"task_type"`

	// 计算设备 (auto, cpu, gpu)
	Device string `mapstructure:"device"`

	// 远程推理服务密钥（可选）
	APIKey string `mapstructure:"api_key"`

	// 系统提示词（可选，远程推理服务使用）
	SystemPrompt string `mapstructure:"system_prompt"`
}

// ProcessingConfig 处理流程配置
type ProcessingConfig struct {
	// 元数据写入最大重试次数
	MaxWriteRetries int `mapstructure:"max_write_retries"`

	// 重试退避基础延迟（毫秒，第N次重试等待 N*base）
	RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms"`
}

// ToolsConfig 外部工具配置
type ToolsConfig struct {
	// exiftool路径
	ExiftoolPath string `mapstructure:"exiftool_path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// 日志级别 (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// 是否启用文件日志
	EnableFile bool `mapstructure:"enable_file"`

	// 是否启用控制台日志
	EnableConsole bool `mapstructure:"enable_console"`

	// 日志目录
	LogDir string `mapstructure:"log_dir"`
}

// AdvancedConfig 高级配置
type AdvancedConfig struct {
	// 是否启用配置热重载
	EnableHotReload bool `mapstructure:"enable_hot_reload"`

	// 会话数据库路径（空表示使用系统临时目录）
	SessionDBPath string `mapstructure:"session_db_path"`

	// UI设置
	UI UIConfig `mapstructure:"ui"`
}

// UIConfig UI配置
type UIConfig struct {
	// 静默模式（不显示进度条）
	SilentMode bool `mapstructure:"silent_mode"`

	// 禁用所有UI输出
	DisableUI bool `mapstructure:"disable_ui"`
}

// ValidationError 配置验证错误
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	var builder strings.Builder
	builder.WriteString("配置验证失败 [")
	builder.WriteString(e.Field)
	builder.WriteString("]: ")
	builder.WriteString(e.Message)
	builder.WriteString(" (当前值: ")
	builder.WriteString(fmt.Sprint(e.Value))
	builder.WriteString(")")
	return builder.String()
}

// NewConfig 创建新的配置实例
func NewConfig(configFile string, logger *zap.Logger) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(".piktag")
		v.SetConfigType("yaml")
	}

	// 读取环境变量
	v.SetEnvPrefix("PIKTAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// 配置文件不存在，使用默认配置
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Manager 配置管理器，支持热重载
type Manager struct {
	config     *Config
	viper      *viper.Viper
	logger     *zap.Logger
	mutex      sync.RWMutex
	configFile string
}

// NewManager 创建配置管理器
func NewManager(configFile string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		viper:      viper.New(),
		logger:     logger,
		configFile: configFile,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// load 加载配置
func (m *Manager) load() error {
	setDefaults(m.viper)

	if m.configFile != "" {
		m.viper.SetConfigFile(m.configFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		m.viper.AddConfigPath(home)
		m.viper.AddConfigPath(".")
		m.viper.SetConfigName(".piktag")
		m.viper.SetConfigType("yaml")
	}

	m.viper.SetEnvPrefix("PIKTAG")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return err
	}
	if err := Validate(&cfg); err != nil {
		return err
	}

	m.mutex.Lock()
	m.config = &cfg
	m.mutex.Unlock()
	return nil
}

// GetConfig 获取当前配置
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.config
}

// EnableHotReload 启用配置热重载
func (m *Manager) EnableHotReload() {
	if !m.GetConfig().Advanced.EnableHotReload {
		return
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.load(); err != nil {
			m.logger.Error("重新加载配置失败", zap.Error(err))
			return
		}
		m.logger.Info("配置已重新加载", zap.String("file", e.Name))
	})
	m.viper.WatchConfig()
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 数据源默认值
	v.SetDefault("source.kind", SourceKindLocal)
	v.SetDefault("source.local.path", ".")
	v.SetDefault("source.local.recursive", true)
	v.SetDefault("source.local.skip_duplicates", false)

	scanWorkers := runtime.NumCPU()
	if scanWorkers > 4 {
		scanWorkers = 4
	}
	v.SetDefault("source.local.scan_workers", scanWorkers)

	v.SetDefault("source.dam.base_url", "")
	v.SetDefault("source.dam.scope", ScopeAll)
	v.SetDefault("source.dam.status_filter", "")
	v.SetDefault("source.dam.page_size", 100)
	v.SetDefault("source.dam.timeout_seconds", 30)
	v.SetDefault("source.dam.push_failure_fails", false)

	v.SetDefault("source.filter.untagged_keywords_only", false)
	v.SetDefault("source.filter.untagged_category_only", false)
	v.SetDefault("source.filter.untagged_description_only", false)
	v.SetDefault("source.filter.max_items", 0)

	// 引擎默认值
	v.SetDefault("engine.provider", "builtin")
	v.SetDefault("engine.model_id", "piktag-vision-v1")
	v.SetDefault("engine.model_dir", "")
	v.SetDefault("engine.task_type", "full")
	v.SetDefault("engine.device", "auto")

	// 处理流程默认值
	v.SetDefault("processing.max_write_retries", 3)
	v.SetDefault("processing.retry_base_delay_ms", 500)

	// 外部工具默认路径
	v.SetDefault("tools.exiftool_path", "exiftool")

	// 日志默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_file", true)
	v.SetDefault("logging.enable_console", true)
	v.SetDefault("logging.log_dir", "")

	// 高级默认值
	v.SetDefault("advanced.enable_hot_reload", false)
	v.SetDefault("advanced.session_db_path", "")
	v.SetDefault("advanced.ui.silent_mode", false)
	v.SetDefault("advanced.ui.disable_ui", false)
}

// Validate 验证并修正配置
func Validate(cfg *Config) error {
	switch cfg.Source.Kind {
	case SourceKindLocal, SourceKindDAM:
	case "":
		cfg.Source.Kind = SourceKindLocal
	default:
		return &ValidationError{
			Field:   "source.kind",
			Value:   cfg.Source.Kind,
			Message: "数据源类型必须是 local, dam 之一",
		}
	}

	if cfg.Source.Local.ScanWorkers <= 0 {
		cfg.Source.Local.ScanWorkers = runtime.NumCPU()
	}

	if err := validateDAM(&cfg.Source.DAM, cfg.Source.Kind == SourceKindDAM); err != nil {
		return err
	}

	if cfg.Source.Filter.MaxItems < 0 {
		cfg.Source.Filter.MaxItems = 0
	}

	if cfg.Processing.MaxWriteRetries <= 0 {
		cfg.Processing.MaxWriteRetries = 3
	}
	if cfg.Processing.RetryBaseDelayMS <= 0 {
		cfg.Processing.RetryBaseDelayMS = 500
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return &ValidationError{
			Field:   "logging.level",
			Value:   cfg.Logging.Level,
			Message: "日志级别必须是 debug, info, warn, error 之一",
		}
	}

	if cfg.Tools.ExiftoolPath == "" {
		cfg.Tools.ExiftoolPath = "exiftool"
	}

	return nil
}

// validateDAM 验证远程数据源配置
// 四种检索范围互斥，各自要求对应的标识字段。
func validateDAM(dam *DAMSourceConfig, required bool) error {
	if dam.Scope == "" {
		dam.Scope = ScopeAll
	}

	switch dam.Scope {
	case ScopeAll:
	case ScopeSavedSearch:
		if required && dam.SavedSearchID == "" {
			return &ValidationError{
				Field:   "source.dam.saved_search_id",
				Value:   dam.SavedSearchID,
				Message: "检索范围为 saved_search 时必须指定检索ID",
			}
		}
	case ScopeCollection:
		if required && dam.CollectionID == "" {
			return &ValidationError{
				Field:   "source.dam.collection_id",
				Value:   dam.CollectionID,
				Message: "检索范围为 collection 时必须指定收藏集ID",
			}
		}
	case ScopeQuery:
		if required && dam.Query == "" {
			return &ValidationError{
				Field:   "source.dam.query",
				Value:   dam.Query,
				Message: "检索范围为 query 时必须提供查询文本",
			}
		}
	default:
		return &ValidationError{
			Field:   "source.dam.scope",
			Value:   dam.Scope,
			Message: "检索范围必须是 all, saved_search, collection, query 之一",
		}
	}

	if required && dam.BaseURL == "" {
		return &ValidationError{
			Field:   "source.dam.base_url",
			Value:   dam.BaseURL,
			Message: "远程数据源必须配置服务器地址",
		}
	}

	// 服务器端每页上限200
	if dam.PageSize <= 0 {
		dam.PageSize = 100
	}
	if dam.PageSize > 200 {
		dam.PageSize = 200
	}

	if dam.TimeoutSeconds <= 0 {
		dam.TimeoutSeconds = 30
	}

	return nil
}
