package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 表示字节容量，支持 "1GiB"、"512m"、"2048" 等写法（按 1024 进制换算）。
type ByteSize int64

// UnmarshalText 解析带单位的容量字符串。
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Bytes 返回 int64 形式的字节数。
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	return units.BytesSize(float64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if intVal, err := parseInt(raw); err == nil {
		return ByteSize(intVal), nil
	}
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %s", raw)
	}
	return ByteSize(size), nil
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述监听端口与日志输出等进程级参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// CacheConfig 决定磁盘缓存的布局、容量与写入来源。
type CacheConfig struct {
	CacheDir        string   `mapstructure:"CacheDir"`
	ShardDepth      int      `mapstructure:"ShardDepth"`
	MaxCacheSize    ByteSize `mapstructure:"MaxCacheSize"`
	KeyAlgorithm    string   `mapstructure:"KeyAlgorithm"`
	DefaultTransfer string   `mapstructure:"DefaultTransfer"`
	ImportRoot      string   `mapstructure:"ImportRoot"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// UpstreamRateLimit 限制每秒回源请求数，0 表示不限制。
	UpstreamRateLimit float64 `mapstructure:"UpstreamRateLimit"`
	UpstreamBurst     int     `mapstructure:"UpstreamBurst"`
}

// Config 是 TOML 文件映射的整体结构，所有字段均位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:",squash"`
}

// ImportEnabled 表示是否允许从本地路径导入文件。
func (c CacheConfig) ImportEnabled() bool {
	return c.ImportRoot != ""
}

// RateLimited 表示是否对回源请求限流。
func (c CacheConfig) RateLimited() bool {
	return c.UpstreamRateLimit > 0
}

// FetchEnabled 表示是否配置了回源地址。
func (c CacheConfig) FetchEnabled() bool {
	return c.Upstream != ""
}
