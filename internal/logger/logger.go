package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Verbose       bool
	EnableFile    bool
	EnableConsole bool
	LogLevel      zapcore.Level
	LogDir        string
	Component     string
}

// DefaultConfig 默认日志配置
func DefaultConfig() *Config {
	return &Config{
		Verbose:       false,
		EnableFile:    true,
		EnableConsole: true,
		LogLevel:      zapcore.InfoLevel,
		LogDir:        "./output/logs",
		Component:     "piktag",
	}
}

// NewLogger 创建新的日志实例
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := DefaultConfig()
	cfg.Verbose = verbose
	return NewLoggerWithConfig(cfg)
}

// NewLoggerWithConfig 使用配置创建日志实例
func NewLoggerWithConfig(cfg *Config) (*zap.Logger, error) {
	// 控制台日志级别 - 非verbose模式只显示WARN及以上，避免打断进度显示
	consoleLevel := zapcore.WarnLevel
	if cfg.Verbose {
		consoleLevel = zapcore.DebugLevel
	}
	if cfg.LogLevel != zapcore.InfoLevel {
		consoleLevel = cfg.LogLevel
	}

	consoleConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    colorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	fileConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := make([]zapcore.Core, 0, 2)
	if cfg.EnableConsole {
		consoleEncoder := zapcore.NewConsoleEncoder(consoleConfig)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), consoleLevel))
	}
	if cfg.EnableFile {
		file, err := os.OpenFile(logFilePath(cfg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		fileEncoder := zapcore.NewJSONEncoder(fileConfig)
		// 文件记录所有级别
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(file), zapcore.DebugLevel))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

// colorLevelEncoder 彩色级别编码器
func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var coloredLevel string
	switch level {
	case zapcore.DebugLevel:
		coloredLevel = color.CyanString("[DEBUG]")
	case zapcore.InfoLevel:
		coloredLevel = color.GreenString("[INFO] ")
	case zapcore.WarnLevel:
		coloredLevel = color.YellowString("[WARN] ")
	case zapcore.ErrorLevel:
		coloredLevel = color.RedString("[ERROR]")
	case zapcore.DPanicLevel:
		coloredLevel = color.MagentaString("[DPANIC]")
	case zapcore.PanicLevel:
		coloredLevel = color.MagentaString("[PANIC]")
	case zapcore.FatalLevel:
		coloredLevel = color.RedString("[FATAL]")
	default:
		coloredLevel = level.CapitalString()
	}
	enc.AppendString(coloredLevel)
}

// logFilePath 获取日志文件路径
func logFilePath(cfg *Config) string {
	logDir := cfg.LogDir
	if logDir == "" {
		logDir = "./output/logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		// 无法创建目录时退回当前目录
		logDir = "."
	}

	component := cfg.Component
	if component == "" {
		component = "piktag"
	}
	timestamp := time.Now().Format("20060102")
	return filepath.Join(logDir, component+"_"+timestamp+".log")
}

// CreateComponentLogger 为组件创建子日志器
func CreateComponentLogger(parent *zap.Logger, component string) *zap.Logger {
	return parent.Named(component)
}
