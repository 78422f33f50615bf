package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/diskcache/internal/cache"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 DISKCACHE_MAXCACHESIZE。
const EnvPrefix = "DISKCACHE"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(cfg.Cache.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Cache.CacheDir = absDir

	if cfg.Cache.ImportRoot != "" {
		absRoot, err := filepath.Abs(cfg.Cache.ImportRoot)
		if err != nil {
			return nil, fmt.Errorf("无法解析导入目录: %w", err)
		}
		cfg.Cache.ImportRoot = absRoot
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDir", "./storage")
	v.SetDefault("ShardDepth", cache.DefaultShardDepth)
	v.SetDefault("MaxCacheSize", cache.DefaultMaxBytes)
	v.SetDefault("KeyAlgorithm", "xxhash")
	v.SetDefault("DefaultTransfer", "copy")
	v.SetDefault("ImportRoot", "")
	v.SetDefault("Upstream", "")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UpstreamRateLimit", 0)
	v.SetDefault("UpstreamBurst", 0)
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 5000
	}
	if cfg.Cache.MaxCacheSize == 0 {
		cfg.Cache.MaxCacheSize = ByteSize(cache.DefaultMaxBytes)
	}
	if cfg.Cache.UpstreamTimeout.DurationValue() == 0 {
		cfg.Cache.UpstreamTimeout = Duration(30 * time.Second)
	}
	if cfg.Cache.UpstreamRateLimit > 0 && cfg.Cache.UpstreamBurst == 0 {
		cfg.Cache.UpstreamBurst = 1
	}
	cfg.Cache.KeyAlgorithm = strings.ToLower(strings.TrimSpace(cfg.Cache.KeyAlgorithm))
	cfg.Cache.DefaultTransfer = strings.ToLower(strings.TrimSpace(cfg.Cache.DefaultTransfer))
	cfg.Cache.Upstream = strings.TrimRight(strings.TrimSpace(cfg.Cache.Upstream), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// byteSizeDecodeHook 让 MaxCacheSize 同时接受整数字节与 "1GiB" 形式的字符串。
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			parsed, err := parseByteSize(v)
			if err != nil {
				return nil, fmt.Errorf("无法解析容量字段: %w", err)
			}
			return parsed, nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的容量类型: %T", v)
		}
	}
}
