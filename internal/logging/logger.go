package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/diskcache/internal/config"
)

// InitLogger 按 Global 段构建 JSON logger，并同步到 logrus 标准 logger，
// 这样第三方包里直接调用 logrus 的日志也走同一个输出。
// 日志文件不可用只会降级到 stdout，不算初始化失败；只有级别非法才返回错误。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别 %q: %w", cfg.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	out, sinkErr := openSink(cfg)
	logger.SetOutput(out)
	if sinkErr != nil {
		// logger 还没法写文件，先在 stderr 留一份。
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", sinkErr)
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(sinkErr.Error())
	}

	std := logrus.StandardLogger()
	std.SetFormatter(logger.Formatter)
	std.SetOutput(logger.Out)
	std.SetLevel(level)
	return logger, nil
}

// CacheLogger 返回带 component/cache_dir 字段的子 logger，交给 cache.Index 使用。
func CacheLogger(logger logrus.FieldLogger, cacheDir string) logrus.FieldLogger {
	return logger.WithFields(logrus.Fields{
		"component": "cache",
		"cache_dir": cacheDir,
	})
}

// openSink 选择日志输出：未配置文件时为 stdout，否则为按大小轮转的 lumberjack 文件。
func openSink(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
