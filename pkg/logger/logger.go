package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	logMu  sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 单个日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	NoColor    bool   // 关闭彩色输出（写入文件或 CI 时使用）
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	l := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
		ForceColors:     !config.NoColor,
		DisableColors:   config.NoColor,
	})

	writers := []io.Writer{os.Stdout}
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    withDefault(config.MaxSize, 100),
			MaxBackups: withDefault(config.MaxBackups, 3),
			MaxAge:     withDefault(config.MaxAge, 7),
			Compress:   config.Compress,
		})
	}
	out := io.MultiWriter(writers...)
	l.SetOutput(out)

	// 组件里大量使用 logrus 包级函数，同步到全局标准 logger
	logrus.SetLevel(level)
	logrus.SetFormatter(l.Formatter)
	logrus.SetOutput(out)

	Logger = l
	return nil
}

// InitDefault 使用默认配置初始化（仅控制台，info 级别）
func InitDefault() error {
	return Init(Config{Level: "info"})
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func get() *logrus.Logger {
	if Logger == nil {
		return logrus.StandardLogger()
	}
	return Logger
}

// Debugf 调试日志
func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }

// Infof 信息日志
func Infof(format string, args ...interface{}) { get().Infof(format, args...) }

// Warnf 警告日志
func Warnf(format string, args ...interface{}) { get().Warnf(format, args...) }

// Errorf 错误日志
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }

// WithField 带字段的日志
func WithField(key string, value interface{}) *logrus.Entry {
	return get().WithField(key, value)
}

// WithFields 带多个字段的日志
func WithFields(fields logrus.Fields) *logrus.Entry {
	return get().WithFields(fields)
}
