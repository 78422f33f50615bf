package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := fixture("valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Cache.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 应该自动填充默认值, got %s", cfg.Cache.UpstreamTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Cache.CacheDir) {
		t.Fatalf("CacheDir 应被转换为绝对路径: %s", cfg.Cache.CacheDir)
	}
	if cfg.Cache.MaxCacheSize.Bytes() != 64<<20 {
		t.Fatalf("MaxCacheSize 解析错误: %d", cfg.Cache.MaxCacheSize.Bytes())
	}
	if cfg.Cache.ShardDepth != 2 {
		t.Fatalf("ShardDepth 应为 2, got %d", cfg.Cache.ShardDepth)
	}
	if cfg.Cache.Upstream != "https://downloads.example.com" {
		t.Fatalf("Upstream 末尾斜杠应被去除: %s", cfg.Cache.Upstream)
	}
	if cfg.Global.LogMaxBackups != 10 || !cfg.Global.LogCompress {
		t.Fatalf("日志轮转默认值缺失: %+v", cfg.Global)
	}
	if cfg.Cache.ImportEnabled() {
		t.Fatalf("未配置 ImportRoot 时不应允许导入")
	}
	if !cfg.Cache.FetchEnabled() {
		t.Fatalf("配置了 Upstream 时应允许回源")
	}
}

func TestValidateRejectsEmptyCacheDir(t *testing.T) {
	cfgPath := fixture("missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateCacheFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"depth zero", func(c *Config) { c.Cache.ShardDepth = 0 }, false},
		{"depth too deep", func(c *Config) { c.Cache.ShardDepth = 9 }, true},
		{"negative depth", func(c *Config) { c.Cache.ShardDepth = -1 }, true},
		{"tiny budget", func(c *Config) { c.Cache.MaxCacheSize = 100 }, true},
		{"unknown algorithm", func(c *Config) { c.Cache.KeyAlgorithm = "md5" }, true},
		{"unknown transfer", func(c *Config) { c.Cache.DefaultTransfer = "rsync" }, true},
		{"ftp upstream", func(c *Config) { c.Cache.Upstream = "ftp://example.com" }, true},
		{"upstream without host", func(c *Config) { c.Cache.Upstream = "https://" }, true},
		{"zero timeout", func(c *Config) { c.Cache.UpstreamTimeout = 0 }, true},
		{"negative rate", func(c *Config) { c.Cache.UpstreamRateLimit = -1 }, true},
		{"negative burst", func(c *Config) { c.Cache.UpstreamBurst = -1 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateReportsFieldName(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.KeyAlgorithm = "md5"
	err := cfg.Validate()
	fieldErr, ok := err.(FieldError)
	if !ok {
		t.Fatalf("应返回 FieldError, got %T", err)
	}
	if fieldErr.Field != "Cache.KeyAlgorithm" {
		t.Fatalf("字段名错误: %s", fieldErr.Field)
	}
}

func TestByteSizeUnmarshalText(t *testing.T) {
	testCases := []struct {
		raw  string
		want int64
	}{
		{"2048", 2048},
		{"0x400", 1024},
		{"1GiB", 1 << 30},
		{"512m", 512 << 20},
		{"10k", 10 << 10},
	}
	for _, tc := range testCases {
		var b ByteSize
		if err := b.UnmarshalText([]byte(tc.raw)); err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.raw, err)
		}
		if b.Bytes() != tc.want {
			t.Fatalf("%s: want %d, got %d", tc.raw, tc.want, b.Bytes())
		}
	}

	var b ByteSize
	if err := b.UnmarshalText([]byte("lots")); err == nil {
		t.Fatalf("非法容量应返回错误")
	}
}

func TestByteSizeString(t *testing.T) {
	if got := ByteSize(1 << 30).String(); got != "1GiB" {
		t.Fatalf("unexpected string: %s", got)
	}
}
